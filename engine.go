package authlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ksm067300-arch/auth-lab/internal"
	internalaudit "github.com/ksm067300-arch/auth-lab/internal/audit"
	"github.com/ksm067300-arch/auth-lab/internal/limiters"
	"github.com/ksm067300-arch/auth-lab/internal/rate"
	"github.com/ksm067300-arch/auth-lab/internal/stores"
	"github.com/ksm067300-arch/auth-lab/jwt"
	"github.com/ksm067300-arch/auth-lab/password"
	"github.com/ksm067300-arch/auth-lab/session"
	"github.com/ksm067300-arch/auth-lab/totp"
)

// Engine runs the two-step login, TOTP enrollment and session checks. It is
// immutable after Build and safe for concurrent use.
type Engine struct {
	config        Config
	identities    IdentityStore
	verifier      CredentialVerifier
	hasher        *password.Argon2
	totp          *totp.Engine
	tokens        *jwt.Manager
	preAuth       *stores.PreAuthStore
	replay        *stores.ReplayGuard
	sessions      *session.Store
	enrollLimiter *limiters.EnrollmentLimiter
	rateLimiter   *rate.Limiter
	signupLimiter *limiters.SignupLimiter
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// Close flushes buffered audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped is the number of audit events lost to a full queue or to
// emission after Close.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditStats reports delivered, dropped and failed audit events. It is zero
// when auditing is disabled.
func (e *Engine) AuditStats() AuditStats {
	if e == nil || e.audit == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

// MetricsSnapshot copies the engine counters and, when enabled, the
// verifier latency histogram.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ready reports whether the token backend answers.
func (e *Engine) Ready(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// TOTPDigits is the configured code length.
func (e *Engine) TOTPDigits() int {
	return e.config.TOTP.Digits
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.identities == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return nil
}

// upstream logs cause and returns it wrapped in ErrUpstreamUnavailable.
func (e *Engine) upstream(ctx context.Context, op string, cause error) error {
	e.metricInc(MetricUpstreamUnavailable)
	e.logger.WarnContext(ctx, "backend unavailable", "op", op, "error", cause)
	e.emitAudit(ctx, auditEventUpstreamUnavailable, false, "", "", ErrUpstreamUnavailable, func() map[string]string {
		return map[string]string{"op": op}
	})
	return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, op)
}

/*
====================================
USERNAMES
====================================
*/

func (e *Engine) normalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if e.config.Identity.CaseInsensitiveUsernames {
		username = strings.ToLower(username)
	}
	return username
}

func (e *Engine) validUsername(username string) bool {
	if username == "" || len(username) > e.config.Identity.MaxUsernameLength {
		return false
	}
	if !utf8.ValidString(username) {
		return false
	}
	for _, r := range username {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

/*
====================================
PRE-AUTH TOKENS
====================================
*/

func (e *Engine) issuePreAuth(ctx context.Context, identity Identity) (string, time.Time, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", time.Time{}, e.upstream(ctx, "pre-auth id", err)
	}
	tokenID := id.String()
	now := e.now()
	expiresAt := now.Add(e.config.PreAuth.TTL)

	record := &stores.PreAuthRecord{
		IdentityID: identity.ID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
		State:      stores.PreAuthPending,
	}
	if err := e.preAuth.Save(ctx, tokenID, record, e.config.PreAuth.TTL+e.config.PreAuth.Retention); err != nil {
		return "", time.Time{}, e.upstream(ctx, "pre-auth save", err)
	}

	token, err := e.tokens.Issue(jwt.PurposeTwoFactor, tokenID, now, e.config.PreAuth.TTL)
	if err != nil {
		return "", time.Time{}, e.upstream(ctx, "pre-auth sign", err)
	}
	return token, expiresAt, nil
}

// verifyPreAuth checks envelope then record. It does not consume.
func (e *Engine) verifyPreAuth(ctx context.Context, token string) (string, *stores.PreAuthRecord, error) {
	claims, err := e.parseEnvelope(token, jwt.PurposeTwoFactor)
	if err != nil {
		return "", nil, err
	}
	record, err := e.preAuth.Get(ctx, claims.ID, e.now())
	if err != nil {
		return "", nil, e.mapPreAuthError(ctx, err)
	}
	return claims.ID, record, nil
}

func (e *Engine) mapPreAuthError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, stores.ErrPreAuthNotFound):
		return ErrTokenInvalid
	case errors.Is(err, stores.ErrPreAuthExpired):
		return ErrTokenExpired
	case errors.Is(err, stores.ErrPreAuthConsumed):
		return ErrTokenAlreadyUsed
	case errors.Is(err, stores.ErrPreAuthLocked):
		return ErrTooManyAttempts
	default:
		return e.upstream(ctx, "pre-auth store", err)
	}
}

/*
====================================
SESSION TOKENS
====================================
*/

func (e *Engine) issueSession(ctx context.Context, identity Identity, via uint8) (string, time.Time, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", time.Time{}, e.upstream(ctx, "session id", err)
	}
	sessionID := id.String()
	now := e.now()
	expiresAt := now.Add(e.config.Session.TTL)

	sess := &session.Session{
		SessionID:  sessionID,
		IdentityID: identity.ID,
		Username:   identity.Username,
		Via:        via,
		CreatedAt:  now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess, e.config.Session.TTL); err != nil {
		return "", time.Time{}, e.upstream(ctx, "session save", err)
	}

	token, err := e.tokens.Issue(jwt.PurposeSession, sessionID, now, e.config.Session.TTL)
	if err != nil {
		return "", time.Time{}, e.upstream(ctx, "session sign", err)
	}
	e.metricInc(MetricSessionCreated)
	return token, expiresAt, nil
}

func (e *Engine) verifySession(ctx context.Context, token string) (*session.Session, error) {
	claims, err := e.parseEnvelope(token, jwt.PurposeSession)
	if err != nil {
		return nil, err
	}
	sess, err := e.sessions.Get(ctx, claims.ID, e.now())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorrupt):
			return nil, ErrTokenInvalid
		case errors.Is(err, session.ErrExpired):
			return nil, ErrTokenExpired
		default:
			return nil, e.upstream(ctx, "session store", err)
		}
	}
	return sess, nil
}

func (e *Engine) parseEnvelope(token string, purpose jwt.Purpose) (*jwt.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedInput
	}
	claims, err := e.tokens.Parse(token, purpose)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrWrongPurpose):
			return nil, ErrTokenWrongPurpose
		default:
			return nil, ErrTokenInvalid
		}
	}
	if _, err := internal.ParseTokenID(claims.ID); err != nil {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// replayTTL covers every step that a code accepted now could still match.
func (e *Engine) replayTTL() time.Duration {
	period := time.Duration(e.config.TOTP.Period) * time.Second
	return period * time.Duration(2*e.config.TOTP.Skew+2)
}

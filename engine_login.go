package authlab

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ksm067300-arch/auth-lab/internal/rate"
	"github.com/ksm067300-arch/auth-lab/internal/stores"
	"github.com/ksm067300-arch/auth-lab/session"
	"github.com/ksm067300-arch/auth-lab/totp"
	"github.com/pquerna/otp"
)

const (
	messageTwoFactorRequired = "two-factor authentication required"
	messageAuthenticated     = "authenticated"
)

// Login performs step one. For an identity with an ACTIVE secret it returns
// a pre-auth token and no session; otherwise it returns a session token.
//
// Errors: ErrMalformedInput, ErrLoginRateLimited, ErrInvalidCredentials,
// ErrUpstreamUnavailable.
func (e *Engine) Login(ctx context.Context, username, pw string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	username = e.normalizeUsername(username)
	if !e.validUsername(username) || pw == "" {
		return nil, ErrMalformedInput
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
				return nil, ErrLoginRateLimited
			}
			return nil, e.upstream(ctx, "login throttle", err)
		}
	}

	identity, err := e.verifyCredentials(ctx, username, pw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricLoginFailure)
			if e.rateLimiter != nil {
				if rerr := e.rateLimiter.IncrementLogin(ctx, username, ip); rerr != nil && !errors.Is(rerr, rate.ErrRateLimited) {
					e.logger.WarnContext(ctx, "login throttle increment failed", "error", rerr)
				}
			}
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
		}
		return nil, err
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, username); err != nil {
			e.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
		}
	}

	active, err := e.identities.ActiveTOTPSecret(ctx, identity.ID)
	if err != nil {
		return nil, e.upstream(ctx, "active secret lookup", err)
	}

	if active != nil {
		token, expiresAt, err := e.issuePreAuth(ctx, identity)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, true, identity.ID, "", nil, nil)
		e.logger.DebugContext(ctx, "second factor required", "identity_id", identity.ID)
		return &LoginResult{
			RequiresTwoFactor: true,
			PreAuthToken:      token,
			ExpiresAt:         expiresAt,
			Message:           messageTwoFactorRequired,
		}, nil
	}

	token, expiresAt, err := e.issueSession(ctx, identity, session.ViaPassword)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, "", nil, nil)
	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Message:     messageAuthenticated,
	}, nil
}

// verifyCredentials calls the verifier under the configured deadline. Any
// outcome other than success or ErrInvalidCredentials is upstream failure.
func (e *Engine) verifyCredentials(ctx context.Context, username, pw string) (Identity, error) {
	vctx, cancel := context.WithTimeout(ctx, e.config.Verifier.Timeout)
	defer cancel()

	type outcome struct {
		identity Identity
		err      error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		identity, err := e.verifier.VerifyCredentials(vctx, username, pw)
		done <- outcome{identity: identity, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-vctx.Done():
		res = outcome{err: vctx.Err()}
	}
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifierLatency, time.Since(start))
	}

	switch {
	case res.err == nil:
		if res.identity.ID == "" {
			return Identity{}, e.upstream(ctx, "credential verifier", errors.New("verifier returned empty identity"))
		}
		return res.identity, nil
	case errors.Is(res.err, ErrInvalidCredentials):
		return Identity{}, ErrInvalidCredentials
	default:
		return Identity{}, e.upstream(ctx, "credential verifier", res.err)
	}
}

// VerifySecondFactor performs step two: it exchanges a pre-auth token and a
// current TOTP code for a session token. The pre-auth token is consumed on
// success; wrong codes count against its attempt budget.
//
// Errors: ErrMalformedInput, ErrTokenExpired, ErrTokenWrongPurpose,
// ErrTokenInvalid, ErrTokenAlreadyUsed, ErrTooManyAttempts, ErrCodeInvalid,
// ErrCodeReplayed, ErrUpstreamUnavailable.
func (e *Engine) VerifySecondFactor(ctx context.Context, preAuthToken, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	tokenID, record, err := e.verifyPreAuth(ctx, preAuthToken)
	if err != nil {
		e.secondFactorFailed(ctx, "", err)
		return nil, err
	}
	identityID := record.IdentityID

	code = strings.TrimSpace(code)
	if !totp.WellFormedCode(code, otp.Digits(e.config.TOTP.Digits)) {
		return nil, ErrMalformedInput
	}

	active, err := e.identities.ActiveTOTPSecret(ctx, identityID)
	if err != nil {
		return nil, e.upstream(ctx, "active secret lookup", err)
	}
	if active == nil {
		// Second factor removed since step one; the token can never succeed.
		if _, cerr := e.preAuth.Consume(ctx, tokenID, e.now()); cerr != nil && !errors.Is(cerr, stores.ErrPreAuthConsumed) {
			e.logger.WarnContext(ctx, "pre-auth burn failed", "identity_id", identityID, "error", cerr)
		}
		e.secondFactorFailed(ctx, identityID, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	}

	now := e.now()
	counter, ok, err := e.totp.Verify(active.Secret, code, now)
	if err != nil {
		return nil, e.upstream(ctx, "active secret unusable", err)
	}
	if !ok {
		exceeded, ferr := e.preAuth.RecordFailure(ctx, tokenID, e.config.PreAuth.MaxAttempts, now)
		if ferr != nil {
			err = e.mapPreAuthError(ctx, ferr)
		} else if exceeded {
			e.metricInc(MetricTwoFactorAttemptsExceeded)
			err = ErrTooManyAttempts
		} else {
			err = ErrCodeInvalid
		}
		e.secondFactorFailed(ctx, identityID, err)
		return nil, err
	}

	if err := e.replay.MarkUsed(ctx, identityID, active.Secret, counter, e.replayTTL()); err != nil {
		if errors.Is(err, stores.ErrCodeReplayed) {
			e.metricInc(MetricCodeReplayed)
			e.secondFactorFailed(ctx, identityID, ErrCodeReplayed)
			return nil, ErrCodeReplayed
		}
		return nil, e.upstream(ctx, "replay guard", err)
	}

	if _, err := e.preAuth.Consume(ctx, tokenID, now); err != nil {
		err = e.mapPreAuthError(ctx, err)
		e.secondFactorFailed(ctx, identityID, err)
		return nil, err
	}

	identity, err := e.identities.IdentityByID(ctx, identityID)
	if err != nil {
		return nil, e.upstream(ctx, "identity lookup", err)
	}

	token, expiresAt, err := e.issueSession(ctx, identity, session.ViaTOTP)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identityID, "", nil, nil)
	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Message:     messageAuthenticated,
	}, nil
}

func (e *Engine) secondFactorFailed(ctx context.Context, identityID string, err error) {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return
	}
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, "", err, nil)
	e.logger.InfoContext(ctx, "second factor rejected", "identity_id", identityID, "reason", string(auditErrorCode(err)))
}

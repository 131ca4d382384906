package authlab

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"

	"github.com/ksm067300-arch/auth-lab/internal/limiters"
	"github.com/ksm067300-arch/auth-lab/internal/stores"
	"github.com/ksm067300-arch/auth-lab/totp"
	"github.com/pquerna/otp"
)

// SetupTOTP generates a fresh secret for the session's identity and stores
// it as PENDING, replacing any earlier pending secret. The ACTIVE secret, if
// any, keeps working until ActivateTOTP succeeds.
func (e *Engine) SetupTOTP(ctx context.Context, sessionToken string) (*TOTPSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, e.upstream(ctx, "secret generation", err)
	}
	if err := e.identities.SavePendingTOTPSecret(ctx, sess.IdentityID, secret); err != nil {
		return nil, e.upstream(ctx, "pending secret save", err)
	}

	e.metricInc(MetricEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, sess.IdentityID, sess.SessionID, nil, nil)
	return &TOTPSetup{
		Secret: totp.EncodeSecret(secret),
		URI:    e.totp.ProvisionURI(secret, sess.Username),
	}, nil
}

// PendingTOTPURI returns the provisioning URI of the session identity's
// current PENDING secret, for QR rendering. ErrSecretNotPending when there
// is none.
func (e *Engine) PendingTOTPURI(ctx context.Context, sessionToken string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return "", err
	}
	pending, err := e.identities.PendingTOTPSecret(ctx, sess.IdentityID)
	if err != nil {
		return "", e.upstream(ctx, "pending secret lookup", err)
	}
	if pending == nil {
		return "", ErrSecretNotPending
	}
	return e.totp.ProvisionURI(pending.Secret, sess.Username), nil
}

// ActivateTOTP proves possession of a PENDING secret and promotes it to
// ACTIVE, demoting the previous ACTIVE secret. The secret must belong to the
// session's identity. When Enrollment.RevokeOtherSessions is set, every
// other session of the identity is revoked afterwards.
//
// Errors: ErrMalformedInput, ErrTokenExpired, ErrTokenWrongPurpose,
// ErrTokenInvalid, ErrSecretAlreadyActive, ErrSecretNotPending,
// ErrTooManyAttempts, ErrCodeInvalid, ErrCodeReplayed,
// ErrUpstreamUnavailable.
func (e *Engine) ActivateTOTP(ctx context.Context, sessionToken, secretKey, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return err
	}
	identityID := sess.IdentityID

	secret, err := totp.DecodeSecret(secretKey)
	if err != nil {
		return ErrMalformedInput
	}
	code = strings.TrimSpace(code)
	if !totp.WellFormedCode(code, otp.Digits(e.config.TOTP.Digits)) {
		return ErrMalformedInput
	}

	active, err := e.identities.ActiveTOTPSecret(ctx, identityID)
	if err != nil {
		return e.upstream(ctx, "active secret lookup", err)
	}
	if active != nil && subtle.ConstantTimeCompare(active.Secret, secret) == 1 {
		e.activationFailed(ctx, sess.IdentityID, sess.SessionID, ErrSecretAlreadyActive)
		return ErrSecretAlreadyActive
	}

	pending, err := e.identities.PendingTOTPSecret(ctx, identityID)
	if err != nil {
		return e.upstream(ctx, "pending secret lookup", err)
	}
	if pending == nil || subtle.ConstantTimeCompare(pending.Secret, secret) != 1 {
		e.activationFailed(ctx, sess.IdentityID, sess.SessionID, ErrSecretNotPending)
		return ErrSecretNotPending
	}

	if err := e.enrollLimiter.Check(ctx, identityID); err != nil {
		if errors.Is(err, limiters.ErrEnrollmentRateLimited) {
			e.activationFailed(ctx, sess.IdentityID, sess.SessionID, ErrTooManyAttempts)
			return ErrTooManyAttempts
		}
		return e.upstream(ctx, "enrollment limiter", err)
	}

	counter, ok, err := e.totp.Verify(secret, code, e.now())
	if err != nil {
		return e.upstream(ctx, "pending secret unusable", err)
	}
	if !ok {
		err := ErrCodeInvalid
		if lerr := e.enrollLimiter.RecordFailure(ctx, identityID); lerr != nil {
			if !errors.Is(lerr, limiters.ErrEnrollmentRateLimited) {
				return e.upstream(ctx, "enrollment limiter", lerr)
			}
			err = ErrTooManyAttempts
		}
		e.activationFailed(ctx, sess.IdentityID, sess.SessionID, err)
		return err
	}

	if err := e.replay.MarkUsed(ctx, identityID, secret, counter, e.replayTTL()); err != nil {
		if errors.Is(err, stores.ErrCodeReplayed) {
			e.metricInc(MetricCodeReplayed)
			e.activationFailed(ctx, sess.IdentityID, sess.SessionID, ErrCodeReplayed)
			return ErrCodeReplayed
		}
		return e.upstream(ctx, "replay guard", err)
	}

	if err := e.identities.ActivateTOTPSecret(ctx, identityID, secret); err != nil {
		switch {
		case errors.Is(err, ErrSecretAlreadyActive), errors.Is(err, ErrSecretNotPending):
			e.activationFailed(ctx, sess.IdentityID, sess.SessionID, err)
			return err
		default:
			return e.upstream(ctx, "secret activation", err)
		}
	}

	if err := e.enrollLimiter.Reset(ctx, identityID); err != nil {
		e.logger.WarnContext(ctx, "enrollment limiter reset failed", "identity_id", identityID, "error", err)
	}

	e.metricInc(MetricEnrollmentActivated)
	e.emitAudit(ctx, auditEventTOTPActivated, true, identityID, sess.SessionID, nil, nil)
	e.logger.InfoContext(ctx, "totp secret activated", "identity_id", identityID)

	if e.config.Enrollment.RevokeOtherSessions {
		n, err := e.sessions.DeleteAllForIdentity(ctx, identityID, sess.SessionID)
		if err != nil {
			// Activation is committed; a revocation failure is logged only.
			e.logger.ErrorContext(ctx, "revoke other sessions failed", "identity_id", identityID, "error", err)
			return nil
		}
		if n > 0 {
			for i := 0; i < n; i++ {
				e.metricInc(MetricSessionRevoked)
			}
			e.emitAudit(ctx, auditEventSessionsRevoked, true, identityID, sess.SessionID, nil, func() map[string]string {
				return map[string]string{"count": strconv.Itoa(n), "reason": "totp_activated"}
			})
		}
	}
	return nil
}

func (e *Engine) activationFailed(ctx context.Context, identityID, sessionID string, err error) {
	e.metricInc(MetricEnrollmentFailure)
	e.emitAudit(ctx, auditEventTOTPActivationFailure, false, identityID, sessionID, err, nil)
}

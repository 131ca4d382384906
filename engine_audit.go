package authlab

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTOTPSetupRequested    = "totp_setup_requested"
	auditEventTOTPActivated         = "totp_activated"
	auditEventTOTPActivationFailure = "totp_activation_failure"
	auditEventSessionsRevoked       = "sessions_revoked"
	auditEventLogout                = "logout"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventUpstreamUnavailable   = "upstream_unavailable"
)

// AuditErrorCode is the stable, secret-free reason recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenUsed          AuditErrorCode = "token_already_used"
	auditErrTokenPurpose       AuditErrorCode = "token_wrong_purpose"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeReplayed       AuditErrorCode = "code_replayed"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrSecretActive       AuditErrorCode = "secret_already_active"
	auditErrSecretNotPending   AuditErrorCode = "secret_not_pending"
	auditErrMalformed          AuditErrorCode = "malformed_input"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrSignupRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrTokenWrongPurpose):
		return auditErrTokenPurpose
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrCodeReplayed):
		return auditErrCodeReplayed
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrSecretAlreadyActive):
		return auditErrSecretActive
	case errors.Is(err, ErrSecretNotPending):
		return auditErrSecretNotPending
	case errors.Is(err, ErrMalformedInput):
		return auditErrMalformed
	case errors.Is(err, ErrIdentityExists):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrUpstreamUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

package httpapi

import (
	"errors"
	"net/http"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/middleware"
)

type errorKind struct {
	err    error
	status int
	code   string
}

// Order matters: the first kind err matches wins.
var errorKinds = []errorKind{
	{authlab.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{authlab.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{authlab.ErrTokenAlreadyUsed, http.StatusGone, "token_already_used"},
	{authlab.ErrTokenWrongPurpose, http.StatusForbidden, "token_wrong_purpose"},
	{authlab.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid"},
	{middleware.ErrMissingBearer, http.StatusUnauthorized, "token_invalid"},
	{authlab.ErrCodeInvalid, http.StatusUnauthorized, "code_invalid"},
	{authlab.ErrCodeReplayed, http.StatusUnauthorized, "code_replayed"},
	{authlab.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{authlab.ErrSecretAlreadyActive, http.StatusConflict, "secret_already_active"},
	{authlab.ErrSecretNotPending, http.StatusConflict, "secret_not_pending"},
	{authlab.ErrLoginRateLimited, http.StatusTooManyRequests, "login_rate_limited"},
	{authlab.ErrSignupRateLimited, http.StatusTooManyRequests, "signup_rate_limited"},
	{authlab.ErrIdentityExists, http.StatusConflict, "identity_exists"},
	{authlab.ErrPasswordPolicy, http.StatusUnprocessableEntity, "password_policy"},
	{authlab.ErrMalformedInput, http.StatusUnprocessableEntity, "malformed_input"},
	{authlab.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
	{authlab.ErrEngineNotReady, http.StatusServiceUnavailable, "engine_not_ready"},
}

const codeInternal = "internal"

// errRateLimited is the body written by the per-IP limiter.
var errRateLimited = errors.New("too many requests")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// classify returns the status and body for err. The message is always the
// sentinel's own text so wrapped causes never reach the client.
func classify(err error) (int, errorDetail) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			detail := errorDetail{Code: k.code, Message: k.err.Error()}
			var verr validationError
			if errors.As(err, &verr) {
				detail.Fields = verr
			}
			return k.status, detail
		}
	}
	if errors.Is(err, errRateLimited) {
		return http.StatusTooManyRequests, errorDetail{Code: "rate_limited", Message: errRateLimited.Error()}
	}
	return http.StatusInternalServerError, errorDetail{Code: codeInternal, Message: "internal error"}
}

// kindForCode is the client-side inverse of classify. It returns nil for
// codes it does not know.
func kindForCode(code string) error {
	for _, k := range errorKinds {
		if k.code == code {
			return k.err
		}
	}
	if code == "rate_limited" {
		return authlab.ErrLoginRateLimited
	}
	return nil
}

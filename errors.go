package authlab

import "errors"

// Every error returned by Engine and Flow matches exactly one of these with
// errors.Is. Only ErrUpstreamUnavailable signals that the system, not the
// caller's input, is at fault.
var (
	// ErrInvalidCredentials is returned when the username/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired is returned for a pre-auth or session token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenAlreadyUsed is returned when a consumed pre-auth token is presented again.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrTokenWrongPurpose is returned when a token is presented to an operation it does not grant.
	ErrTokenWrongPurpose = errors.New("token not valid for this operation")
	// ErrTokenInvalid is returned for unknown, forged or revoked tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrCodeInvalid is returned when a one-time code does not match.
	ErrCodeInvalid = errors.New("invalid code")
	// ErrCodeReplayed is returned when a code's time step was already spent by this identity.
	ErrCodeReplayed = errors.New("code already used")
	// ErrTooManyAttempts is returned when the attempt budget for a token or enrollment is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrSecretAlreadyActive is returned when activation targets the identity's current active secret.
	ErrSecretAlreadyActive = errors.New("secret already active")
	// ErrSecretNotPending is returned when no pending secret of the identity matches the submitted one.
	ErrSecretNotPending = errors.New("no matching pending secret")
	// ErrUpstreamUnavailable is returned when the verifier or a backing store cannot be reached in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedInput is returned for syntactically invalid input.
	ErrMalformedInput = errors.New("malformed input")
	// ErrLoginRateLimited is returned when too many failed logins were recorded for the username or client.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrSignupRateLimited is returned by Register when the client exceeded the sign-up budget.
	ErrSignupRateLimited = errors.New("signup rate limited")
	// ErrIdentityNotFound is returned by IdentityStore lookups for unknown identities.
	// The Engine never surfaces it; Login reports ErrInvalidCredentials instead.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is returned by Register for a taken username.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrPasswordPolicy is returned by Register when the password is rejected by policy.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrEngineNotReady is returned when a nil or unbuilt Engine is used.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidState is returned by Flow when an operation is not accepted in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// IsUpstream reports whether err means the system was unavailable rather than
// the input being wrong.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrEngineNotReady)
}

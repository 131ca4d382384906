package authlab

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a configuration that is valid but weaker than it should
// be. Code is stable for tests and tooling.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings from Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds warnings at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	codes := make([]string, 0, len(hits))
	for _, w := range hits {
		codes = append(codes, w.Code)
	}
	return fmt.Errorf("config lint: %s", strings.Join(codes, ", "))
}

// Lint reports settings that pass Validate but weaken the login flow.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway %s extends every token lifetime", c.JWT.Leeway)
	}
	if strings.EqualFold(c.JWT.SigningMethod, "hs256") {
		add("signing_hs256", LintInfo, "hs256 shares the signing key with every verifier")
	}

	if c.PreAuth.TTL > 10*time.Minute {
		add("preauth_ttl_long", LintWarn, "pre-auth tokens live %s", c.PreAuth.TTL)
	}
	if c.PreAuth.MaxAttempts > 10 {
		add("preauth_attempts_high", LintHigh, "%d code guesses per pre-auth token", c.PreAuth.MaxAttempts)
	}
	if c.Session.TTL > 24*time.Hour {
		add("session_ttl_long", LintWarn, "sessions live %s", c.Session.TTL)
	}

	if c.TOTP.Skew > 1 {
		add("totp_skew_wide", LintWarn, "skew %d accepts %d codes per check", c.TOTP.Skew, 2*c.TOTP.Skew+1)
	}
	if c.Enrollment.MaxAttempts > 10 {
		add("enrollment_attempts_high", LintWarn, "%d activation guesses per window", c.Enrollment.MaxAttempts)
	}
	if !c.Enrollment.RevokeOtherSessions {
		add("enrollment_keeps_sessions", LintInfo, "sessions survive second-factor enrollment")
	}

	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintHigh, "step one has no attempt limit")
	} else if !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "login throttling is per username only")
	}
	if !c.RateLimit.EnableSignupThrottle {
		add("signup_throttle_disabled", LintInfo, "registration is not throttled")
	}

	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2 memory %d KB is below 64 MB", c.Password.Memory)
	}
	if c.Password.MinPasswordBytes < 8 {
		add("password_min_short", LintWarn, "minimum password length %d bytes", c.Password.MinPasswordBytes)
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "no audit trail is recorded")
	}

	return ws
}

package authlab

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigHasNoHighWarnings(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("default config should not fail AsError(LintHigh): %v", err)
	}
	if containsCode(cfg.Lint().Codes(), "rate_limits_disabled") {
		t.Error("default config keeps login throttling on")
	}
}

func TestLint_LargeLeeway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.Leeway = 90 * time.Second
	if !containsCode(cfg.Lint().Codes(), "leeway_large") {
		t.Error("expected leeway_large warning")
	}
}

func TestLint_LongPreAuthTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreAuth.TTL = 12 * time.Minute
	if !containsCode(cfg.Lint().Codes(), "preauth_ttl_long") {
		t.Error("expected preauth_ttl_long warning")
	}
}

func TestLint_WideSkew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TOTP.Skew = 2
	if !containsCode(cfg.Lint().Codes(), "totp_skew_wide") {
		t.Error("expected totp_skew_wide warning")
	}
}

func TestLint_RateLimitsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	ws := cfg.Lint()
	if !containsCode(ws.Codes(), "rate_limits_disabled") {
		t.Fatal("expected rate_limits_disabled warning")
	}
	if containsCode(ws.Codes(), "ip_throttle_disabled") {
		t.Error("ip_throttle_disabled is implied by rate_limits_disabled")
	}
	if err := ws.AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail")
	}
}

func TestLint_AuditDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = false
	if !containsCode(cfg.Lint().Codes(), "audit_disabled") {
		t.Error("expected audit_disabled warning when audit is off")
	}
}

func TestLint_HS256Warning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	if !containsCode(cfg.Lint().Codes(), "signing_hs256") {
		t.Error("expected signing_hs256 warning")
	}
}

func TestLint_Argon2Memory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password.Memory = 16 * 1024
	if !containsCode(cfg.Lint().Codes(), "argon2_memory_low") {
		t.Error("expected argon2_memory_low warning")
	}

	cfg.Password.Memory = 64 * 1024
	if containsCode(cfg.Lint().Codes(), "argon2_memory_low") {
		t.Error("should not warn when memory == 64 MB")
	}
}

func TestLint_BySeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreAuth.MaxAttempts = 50
	cfg.Audit.Enabled = false

	high := cfg.Lint().BySeverity(LintHigh)
	if len(high) != 1 || high[0].Code != "preauth_attempts_high" {
		t.Fatalf("expected only preauth_attempts_high, got %v", high.Codes())
	}
	for _, w := range high {
		if w.Severity < LintHigh {
			t.Errorf("BySeverity(LintHigh) returned warning with severity %s", w.Severity)
		}
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

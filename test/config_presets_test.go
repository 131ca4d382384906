package test

import (
	"crypto/ed25519"
	"crypto/rand"
	"slices"
	"testing"
	"time"

	authlab "github.com/ksm067300-arch/auth-lab"
)

func TestDefaultConfigPresetValidates(t *testing.T) {
	cfg := authlab.DefaultConfig()

	if cfg.JWT.SigningMethod != "ed25519" {
		t.Fatalf("expected ed25519, got %q", cfg.JWT.SigningMethod)
	}
	if cfg.PreAuth.TTL != 5*time.Minute || cfg.PreAuth.MaxAttempts != 5 {
		t.Fatalf("unexpected pre-auth defaults: %+v", cfg.PreAuth)
	}
	if cfg.Session.TTL != time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.Session.TTL)
	}
	if !cfg.Enrollment.RevokeOtherSessions {
		t.Fatal("expected enrollment to revoke other sessions")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to require signing keys")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected preset to validate, got %v", err)
	}
}

func TestDefaultConfigPresetLintsClean(t *testing.T) {
	cfg := authlab.DefaultConfig()
	res := cfg.Lint()
	if err := res.AsError(authlab.LintWarn); err != nil {
		t.Fatalf("expected no warnings at WARN or above, got %v", err)
	}
	if !slices.Contains(res.Codes(), "audit_disabled") {
		t.Fatalf("expected audit_disabled info, got %v", res.Codes())
	}
}

package authlab

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test config valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "hs256 short key invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("weak-key")
			},
			wantValid: false,
		},
		{
			name: "ed25519 without keys invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "preauth ttl zero invalid",
			mutate: func(c *Config) {
				c.PreAuth.TTL = 0
			},
			wantValid: false,
		},
		{
			name: "preauth ttl too long invalid",
			mutate: func(c *Config) {
				c.PreAuth.TTL = 20 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "preauth attempts zero invalid",
			mutate: func(c *Config) {
				c.PreAuth.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "session shorter than preauth invalid",
			mutate: func(c *Config) {
				c.Session.TTL = 2 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "totp eight digits valid",
			mutate: func(c *Config) {
				c.TOTP.Digits = 8
			},
			wantValid: true,
		},
		{
			name: "totp seven digits invalid",
			mutate: func(c *Config) {
				c.TOTP.Digits = 7
			},
			wantValid: false,
		},
		{
			name: "totp sha512 valid",
			mutate: func(c *Config) {
				c.TOTP.Algorithm = "sha512"
			},
			wantValid: true,
		},
		{
			name: "totp md5 invalid",
			mutate: func(c *Config) {
				c.TOTP.Algorithm = "MD5"
			},
			wantValid: false,
		},
		{
			name: "totp skew too wide invalid",
			mutate: func(c *Config) {
				c.TOTP.Skew = 4
			},
			wantValid: false,
		},
		{
			name: "totp short secret invalid",
			mutate: func(c *Config) {
				c.TOTP.SecretSize = 10
			},
			wantValid: false,
		},
		{
			name: "totp issuer blank invalid",
			mutate: func(c *Config) {
				c.TOTP.Issuer = "  "
			},
			wantValid: false,
		},
		{
			name: "enrollment attempts zero invalid",
			mutate: func(c *Config) {
				c.Enrollment.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "rate limit disabled ignores attempts",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.MaxLoginAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "rate limit enabled needs attempts",
			mutate: func(c *Config) {
				c.RateLimit.MaxLoginAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "signup throttle needs cooldown",
			mutate: func(c *Config) {
				c.RateLimit.SignupCooldown = 0
			},
			wantValid: false,
		},
		{
			name: "username length invalid",
			mutate: func(c *Config) {
				c.Identity.MaxUsernameLength = 0
			},
			wantValid: false,
		},
		{
			name: "argon2 memory too low invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "verifier timeout zero invalid",
			mutate: func(c *Config) {
				c.Verifier.Timeout = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer zero invalid when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.TOTP.Digits = 7

	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newMemoryIdentityStore()).Build(); err == nil {
		t.Fatal("expected Build to reject invalid config")
	}
}

func TestBuildRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithIdentityStore(newMemoryIdentityStore()).Build(); err == nil {
		t.Fatal("expected Build to require redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected Build to require an identity store")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := New().WithConfig(testConfig()).WithRedis(rdb).WithIdentityStore(newMemoryIdentityStore())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildCopiesConfig(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newMemoryIdentityStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	cfg.JWT.PrivateKey[0] ^= 0xff
	if engine.config.JWT.PrivateKey[0] == cfg.JWT.PrivateKey[0] {
		t.Fatal("engine config must not alias caller key bytes")
	}
}

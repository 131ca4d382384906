package authlab

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override fields; Builder.Build validates the result.
type Config struct {
	JWT        JWTConfig
	TOTP       TOTPConfig
	PreAuth    PreAuthConfig
	Session    SessionConfig
	Enrollment EnrollmentConfig
	RateLimit  RateLimitConfig
	Identity   IdentityConfig
	Password   PasswordConfig
	Verifier   VerifierConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOKEN ENVELOPES
====================================
*/

// JWTConfig configures the signed envelopes around token ids.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PreAuthConfig configures tokens issued after step one for identities with
// an active second factor.
type PreAuthConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// Retention keeps consumed records answering "already used" after TTL.
	Retention   time.Duration
	RedisPrefix string
}

// SessionConfig configures session bearer tokens.
type SessionConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
TOTP
====================================
*/

// TOTPConfig configures code shape, accepted skew and the replay guard.
type TOTPConfig struct {
	Issuer            string
	Digits            int
	Period            int
	Algorithm         string // "SHA1" (default), "SHA256", "SHA512"
	Skew              int
	SecretSize        int
	ReplayRedisPrefix string
}

// EnrollmentConfig configures secret activation.
type EnrollmentConfig struct {
	MaxAttempts         int
	AttemptWindow       time.Duration
	RevokeOtherSessions bool
	RedisPrefix         string
}

/*
====================================
STEP ONE
====================================
*/

// RateLimitConfig configures failed-login and sign-up throttling.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration

	EnableSignupThrottle bool
	MaxSignupsPerIP      int
	SignupCooldown       time.Duration
}

// IdentityConfig controls username handling.
type IdentityConfig struct {
	CaseInsensitiveUsernames bool
	MaxUsernameLength        int
}

// PasswordConfig configures Argon2id hashing for Register and the built-in verifier.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
	// MaxConcurrent caps simultaneous hash evaluations; zero means one per CPU.
	MaxConcurrent int
}

// VerifierConfig bounds calls to the CredentialVerifier.
type VerifierConfig struct {
	Timeout time.Duration
}

/*
====================================
OBSERVABILITY
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FlushTimeout bounds how long Engine.Close waits for queued events.
	FlushTimeout time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. JWT keys must still be set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "authlab",
		},
		TOTP: TOTPConfig{
			Issuer:            "AuthLab",
			Digits:            6,
			Period:            30,
			Algorithm:         "SHA1",
			Skew:              1,
			SecretSize:        20,
			ReplayRedisPrefix: "arp",
		},
		PreAuth: PreAuthConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			Retention:   5 * time.Minute,
			RedisPrefix: "apa",
		},
		Session: SessionConfig{
			TTL:         time.Hour,
			RedisPrefix: "as",
		},
		Enrollment: EnrollmentConfig{
			MaxAttempts:         5,
			AttemptWindow:       15 * time.Minute,
			RevokeOtherSessions: true,
			RedisPrefix:         "aen",
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: false,
			MaxLoginAttempts: 10,
			LoginCooldown:    15 * time.Minute,

			EnableSignupThrottle: true,
			MaxSignupsPerIP:      20,
			SignupCooldown:       time.Hour,
		},
		Identity: IdentityConfig{
			CaseInsensitiveUsernames: false,
			MaxUsernameLength:        64,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MinPasswordBytes: 10,
			MaxPasswordBytes: 1024,
		},
		Verifier: VerifierConfig{
			Timeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			FlushTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Tokens
	if c.PreAuth.TTL <= 0 {
		return errors.New("PreAuth TTL must be > 0")
	}
	if c.PreAuth.TTL > 15*time.Minute {
		return errors.New("PreAuth TTL must be <= 15m")
	}
	if c.PreAuth.MaxAttempts <= 0 || c.PreAuth.MaxAttempts > 65535 {
		return errors.New("PreAuth MaxAttempts must be between 1 and 65535")
	}
	if c.PreAuth.Retention < 0 {
		return errors.New("PreAuth Retention must be >= 0")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.TTL <= c.PreAuth.TTL {
		return errors.New("Session TTL must exceed PreAuth TTL")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("unsupported TOTP algorithm")
	}
	if c.TOTP.SecretSize < 16 {
		return errors.New("TOTP SecretSize must be >= 16")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}

	// Enrollment
	if c.Enrollment.MaxAttempts <= 0 {
		return errors.New("Enrollment MaxAttempts must be > 0")
	}
	if c.Enrollment.AttemptWindow <= 0 {
		return errors.New("Enrollment AttemptWindow must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
	}
	if c.RateLimit.EnableSignupThrottle && (c.RateLimit.MaxSignupsPerIP <= 0 || c.RateLimit.SignupCooldown <= 0) {
		return errors.New("RateLimit signup throttle requires MaxSignupsPerIP and SignupCooldown > 0")
	}

	// Identity
	if c.Identity.MaxUsernameLength <= 0 || c.Identity.MaxUsernameLength > 255 {
		return errors.New("Identity MaxUsernameLength must be between 1 and 255")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Verifier
	if c.Verifier.Timeout <= 0 {
		return errors.New("Verifier Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.FlushTimeout < 0 {
		return errors.New("Audit FlushTimeout must be >= 0")
	}

	return nil
}

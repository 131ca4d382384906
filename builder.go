package authlab

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	internalaudit "github.com/ksm067300-arch/auth-lab/internal/audit"
	"github.com/ksm067300-arch/auth-lab/internal/limiters"
	"github.com/ksm067300-arch/auth-lab/internal/rate"
	"github.com/ksm067300-arch/auth-lab/internal/stores"
	"github.com/ksm067300-arch/auth-lab/jwt"
	"github.com/ksm067300-arch/auth-lab/password"
	"github.com/ksm067300-arch/auth-lab/session"
	"github.com/ksm067300-arch/auth-lab/totp"
	"github.com/pquerna/otp"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityStore
	verifier   CredentialVerifier
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the backend for pre-auth records, sessions, the replay
// guard and all throttles. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets where identities and TOTP secrets live. Required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithCredentialVerifier replaces the built-in PasswordVerifier, for example
// with an LDAP or upstream IdP check.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token issuance, expiry checks and
// TOTP step computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinPasswordBytes,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		MaxConcurrent:    cfg.Password.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	verifier := b.verifier
	if verifier == nil {
		pv, err := NewPasswordVerifier(b.identities, ph, cfg.Password.MinPasswordBytes)
		if err != nil {
			return nil, err
		}
		verifier = pv
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		identities: b.identities,
		verifier:   verifier,
		hasher:     ph,
		tokens:     jm,
		logger:     logger.With("component", "authlab"),
		now:        now,
	}

	engine.totp = totp.New(totp.Config{
		Issuer:     cfg.TOTP.Issuer,
		Period:     uint(cfg.TOTP.Period),
		Skew:       uint(cfg.TOTP.Skew),
		Digits:     otp.Digits(cfg.TOTP.Digits),
		Algorithm:  totpAlgorithm(cfg.TOTP.Algorithm),
		SecretSize: cfg.TOTP.SecretSize,
	})
	engine.preAuth = stores.NewPreAuthStore(b.redis, cfg.PreAuth.RedisPrefix)
	engine.replay = stores.NewReplayGuard(b.redis, cfg.TOTP.ReplayRedisPrefix)
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.enrollLimiter = limiters.NewEnrollmentLimiter(b.redis, limiters.EnrollmentConfig{
		MaxAttempts: cfg.Enrollment.MaxAttempts,
		Window:      cfg.Enrollment.AttemptWindow,
		Prefix:      cfg.Enrollment.RedisPrefix,
	})
	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
			LoginCooldownDuration: cfg.RateLimit.LoginCooldown,
		})
	}
	if cfg.RateLimit.EnableSignupThrottle {
		engine.signupLimiter = limiters.NewSignupLimiter(b.redis, limiters.SignupConfig{
			EnableIPThrottle: true,
			MaxAttempts:      cfg.RateLimit.MaxSignupsPerIP,
			Cooldown:         cfg.RateLimit.SignupCooldown,
		})
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		FlushTimeout: cfg.Audit.FlushTimeout,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

func totpAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Package appconfig loads the server configuration from an optional file
// and AUTHLAB_* environment variables.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// EnvPrefix prefixes every environment override, with "." replaced by "_"
// (AUTHLAB_SERVER_ADDR overrides server.addr).
const EnvPrefix = "AUTHLAB"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	TrustProxy        bool          `mapstructure:"trust_proxy"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" validate:"dive,url"`
	// RequestsPerMinute is the per-IP HTTP budget; 0 disables it.
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
	Burst             int `mapstructure:"burst" validate:"gte=0"`
	QRSize            int `mapstructure:"qr_size" validate:"gte=64,lte=1024"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format  string `mapstructure:"format" validate:"oneof=json text"`
	Service string `mapstructure:"service" validate:"required"`
	Env     string `mapstructure:"env" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required_unless=Embedded true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0,lte=15"`
	// Embedded runs an in-process miniredis instead of dialing Addr.
	Embedded       bool          `mapstructure:"embedded"`
	ConnectRetries uint64        `mapstructure:"connect_retries" validate:"lte=20"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

type AuthConfig struct {
	SigningMethod string `mapstructure:"signing_method" validate:"oneof=ed25519 hs256"`
	// HMACSecret is used with hs256.
	HMACSecret string `mapstructure:"hmac_secret"`
	// PrivateKeyFile and PublicKeyFile hold PEM Ed25519 keys. When both are
	// empty with ed25519 the server generates an ephemeral pair.
	PrivateKeyFile string `mapstructure:"private_key_file"`
	PublicKeyFile  string `mapstructure:"public_key_file"`
	Issuer         string `mapstructure:"issuer" validate:"required"`

	TOTPIssuer string `mapstructure:"totp_issuer" validate:"required"`
	TOTPSkew   int    `mapstructure:"totp_skew" validate:"gte=0,lte=3"`

	PreAuthTTL         time.Duration `mapstructure:"preauth_ttl" validate:"gt=0"`
	PreAuthMaxAttempts int           `mapstructure:"preauth_max_attempts" validate:"gt=0"`
	SessionTTL         time.Duration `mapstructure:"session_ttl" validate:"gt=0"`

	EnrollmentMaxAttempts int           `mapstructure:"enrollment_max_attempts" validate:"gt=0"`
	EnrollmentWindow      time.Duration `mapstructure:"enrollment_window" validate:"gt=0"`
	RevokeOtherSessions   bool          `mapstructure:"revoke_other_sessions"`

	MaxLoginAttempts int           `mapstructure:"max_login_attempts" validate:"gte=0"`
	LoginCooldown    time.Duration `mapstructure:"login_cooldown" validate:"gt=0"`
	IPThrottle       bool          `mapstructure:"ip_throttle"`
	MaxSignupsPerIP  int           `mapstructure:"max_signups_per_ip" validate:"gte=0"`

	CaseInsensitiveUsernames bool `mapstructure:"case_insensitive_usernames"`
	MinPasswordBytes         int  `mapstructure:"min_password_bytes" validate:"gte=1"`
	Audit                    bool `mapstructure:"audit"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is where the Prometheus text exposition is served.
	Path string `mapstructure:"path" validate:"startswith=/"`
	// OTLPEndpoint, when set, also pushes the counters to an OpenTelemetry
	// collector over gRPC.
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool          `mapstructure:"otlp_insecure"`
	OTLPInterval time.Duration `mapstructure:"otlp_interval" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.requests_per_minute", 120)
	v.SetDefault("server.burst", 30)
	v.SetDefault("server.qr_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service", "authlab")
	v.SetDefault("log.env", "dev")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embedded", false)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.retry_backoff", 500*time.Millisecond)

	v.SetDefault("database.dsn", "authlab.db")

	d := authlab.DefaultConfig()
	v.SetDefault("auth.signing_method", d.JWT.SigningMethod)
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.private_key_file", "")
	v.SetDefault("auth.public_key_file", "")
	v.SetDefault("auth.issuer", d.JWT.Issuer)
	v.SetDefault("auth.totp_issuer", d.TOTP.Issuer)
	v.SetDefault("auth.totp_skew", d.TOTP.Skew)
	v.SetDefault("auth.preauth_ttl", d.PreAuth.TTL)
	v.SetDefault("auth.preauth_max_attempts", d.PreAuth.MaxAttempts)
	v.SetDefault("auth.session_ttl", d.Session.TTL)
	v.SetDefault("auth.enrollment_max_attempts", d.Enrollment.MaxAttempts)
	v.SetDefault("auth.enrollment_window", d.Enrollment.AttemptWindow)
	v.SetDefault("auth.revoke_other_sessions", d.Enrollment.RevokeOtherSessions)
	v.SetDefault("auth.max_login_attempts", d.RateLimit.MaxLoginAttempts)
	v.SetDefault("auth.login_cooldown", d.RateLimit.LoginCooldown)
	v.SetDefault("auth.ip_throttle", d.RateLimit.EnableIPThrottle)
	v.SetDefault("auth.max_signups_per_ip", d.RateLimit.MaxSignupsPerIP)
	v.SetDefault("auth.case_insensitive_usernames", d.Identity.CaseInsensitiveUsernames)
	v.SetDefault("auth.min_password_bytes", d.Password.MinPasswordBytes)
	v.SetDefault("auth.audit", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.otlp_endpoint", "")
	v.SetDefault("metrics.otlp_insecure", true)
	v.SetDefault("metrics.otlp_interval", 30*time.Second)
}

// Load reads path (YAML, JSON or TOML by extension; empty for none),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("appconfig: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("appconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints. Messages name fields, never values.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("appconfig: %w", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("appconfig: invalid config: %s", strings.Join(msgs, "; "))
	}
	if c.Auth.SigningMethod == "hs256" && len(c.Auth.HMACSecret) < 32 {
		return errors.New("appconfig: auth.hmac_secret must be at least 32 bytes for hs256")
	}
	if (c.Auth.PrivateKeyFile == "") != (c.Auth.PublicKeyFile == "") {
		return errors.New("appconfig: auth.private_key_file and auth.public_key_file must be set together")
	}
	return nil
}

// HasSigningKeys reports whether the engine can be built without generating
// an ephemeral Ed25519 pair.
func (c Config) HasSigningKeys() bool {
	if c.Auth.SigningMethod == "hs256" {
		return c.Auth.HMACSecret != ""
	}
	return c.Auth.PrivateKeyFile != ""
}

// EngineConfig maps the auth section onto authlab.Config, reading key files
// from disk.
func (c Config) EngineConfig() (authlab.Config, error) {
	out := authlab.DefaultConfig()
	a := c.Auth

	out.JWT.SigningMethod = a.SigningMethod
	out.JWT.Issuer = a.Issuer
	switch a.SigningMethod {
	case "hs256":
		out.JWT.PrivateKey = []byte(a.HMACSecret)
	default:
		if a.PrivateKeyFile != "" {
			priv, err := os.ReadFile(a.PrivateKeyFile)
			if err != nil {
				return authlab.Config{}, fmt.Errorf("appconfig: read private key: %w", err)
			}
			pub, err := os.ReadFile(a.PublicKeyFile)
			if err != nil {
				return authlab.Config{}, fmt.Errorf("appconfig: read public key: %w", err)
			}
			out.JWT.PrivateKey = priv
			out.JWT.PublicKey = pub
		}
	}

	out.TOTP.Issuer = a.TOTPIssuer
	out.TOTP.Skew = a.TOTPSkew
	out.PreAuth.TTL = a.PreAuthTTL
	out.PreAuth.MaxAttempts = a.PreAuthMaxAttempts
	out.PreAuth.Retention = a.PreAuthTTL
	out.Session.TTL = a.SessionTTL
	out.Enrollment.MaxAttempts = a.EnrollmentMaxAttempts
	out.Enrollment.AttemptWindow = a.EnrollmentWindow
	out.Enrollment.RevokeOtherSessions = a.RevokeOtherSessions

	out.RateLimit.Enabled = a.MaxLoginAttempts > 0
	out.RateLimit.MaxLoginAttempts = a.MaxLoginAttempts
	out.RateLimit.LoginCooldown = a.LoginCooldown
	out.RateLimit.EnableIPThrottle = a.IPThrottle
	out.RateLimit.EnableSignupThrottle = a.MaxSignupsPerIP > 0
	out.RateLimit.MaxSignupsPerIP = a.MaxSignupsPerIP

	out.Identity.CaseInsensitiveUsernames = a.CaseInsensitiveUsernames
	out.Password.MinPasswordBytes = a.MinPasswordBytes
	out.Audit.Enabled = a.Audit
	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.Enabled
	return out, nil
}

package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// DefaultSecretSize is the RFC 4226 recommended shared secret length.
	DefaultSecretSize = 20
	// DefaultPeriod is the standard time step length in seconds.
	DefaultPeriod = 30
	// DefaultSkew is the number of steps accepted on each side of now.
	DefaultSkew = 1
)

var (
	// ErrEmptySecret is returned when a zero-length secret is used.
	ErrEmptySecret = errors.New("totp: empty secret")
	// ErrMalformedSecret is returned when a base32 secret cannot be decoded.
	ErrMalformedSecret = errors.New("totp: malformed secret")
	// ErrMalformedCode is returned when a code is not a digit string of the configured length.
	ErrMalformedCode = errors.New("totp: malformed code")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code shape and the accepted time window.
type Config struct {
	Issuer     string
	Period     uint
	Skew       uint
	Digits     otp.Digits
	Algorithm  otp.Algorithm
	SecretSize int
}

// Engine generates and validates codes. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	config Config
}

// New returns an Engine. Zero-valued fields take the RFC defaults
// (SHA1, 6 digits, 30s period, 20-byte secrets).
func New(cfg Config) *Engine {
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Digits == 0 {
		cfg.Digits = otp.DigitsSix
	}
	if cfg.SecretSize <= 0 {
		cfg.SecretSize = DefaultSecretSize
	}
	return &Engine{config: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// GenerateSecret returns fresh random secret bytes from crypto/rand.
func (e *Engine) GenerateSecret() ([]byte, error) {
	raw := make([]byte, e.config.SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Counter returns the time step counter containing t.
func (e *Engine) Counter(t time.Time) int64 {
	return t.Unix() / int64(e.config.Period)
}

// Generate returns the code for the step containing t.
func (e *Engine) Generate(secret []byte, t time.Time) (string, error) {
	return e.GenerateCounter(secret, e.Counter(t))
}

// GenerateCounter returns the HOTP code for an explicit step counter.
func (e *Engine) GenerateCounter(secret []byte, counter int64) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if counter < 0 {
		return "", errors.New("totp: negative counter")
	}
	return hotp.GenerateCodeCustom(EncodeSecret(secret), uint64(counter), hotp.ValidateOpts{
		Digits:    e.config.Digits,
		Algorithm: e.config.Algorithm,
	})
}

// Validate checks code against the step containing t and up to skew steps on
// either side. Every candidate is generated and compared in constant time, so
// the work done does not depend on which step matched. On success the matched
// counter is returned; when several steps match, the earliest wins.
func (e *Engine) Validate(secret []byte, code string, t time.Time, skew uint) (int64, bool, error) {
	if len(secret) == 0 {
		return 0, false, ErrEmptySecret
	}
	code = strings.TrimSpace(code)
	if !WellFormedCode(code, e.config.Digits) {
		return 0, false, nil
	}

	base := e.Counter(t)
	matched := int64(-1)
	for step := -int64(skew); step <= int64(skew); step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		candidate, err := e.GenerateCounter(secret, counter)
		if err != nil {
			return 0, false, err
		}
		hit := subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
		if hit == 1 && matched < 0 {
			matched = counter
		}
	}
	if matched < 0 {
		return 0, false, nil
	}
	return matched, true, nil
}

// Verify is Validate with the configured skew.
func (e *Engine) Verify(secret []byte, code string, t time.Time) (int64, bool, error) {
	return e.Validate(secret, code, t, e.config.Skew)
}

// ProvisionURI builds the otpauth enrollment URI:
//
//	otpauth://totp/<issuer>:<account>?secret=<secret>&issuer=<issuer>
//
// Issuer and account are percent-encoded separately so reserved characters
// in a username (including ':') cannot alter the label structure.
func (e *Engine) ProvisionURI(secret []byte, account string) string {
	issuer := e.config.Issuer
	label := escapeLabelPart(account)
	if issuer != "" {
		label = escapeLabelPart(issuer) + ":" + label
	}

	var b strings.Builder
	b.WriteString("otpauth://totp/")
	b.WriteString(label)
	b.WriteString("?secret=")
	b.WriteString(EncodeSecret(secret))
	if issuer != "" {
		b.WriteString("&issuer=")
		b.WriteString(url.QueryEscape(issuer))
	}
	b.WriteString("&algorithm=")
	b.WriteString(e.config.Algorithm.String())
	b.WriteString("&digits=")
	b.WriteString(strconv.Itoa(e.config.Digits.Length()))
	b.WriteString("&period=")
	b.WriteString(strconv.FormatUint(uint64(e.config.Period), 10))
	return b.String()
}

func escapeLabelPart(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}

// EncodeSecret returns the unpadded base32 form used in URIs and by clients.
func EncodeSecret(secret []byte) string {
	return secretEncoding.EncodeToString(secret)
}

// DecodeSecret accepts base32 in any case, with or without padding or
// grouping spaces.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrEmptySecret
	}
	raw, err := secretEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedSecret
	}
	return raw, nil
}

// WellFormedCode reports whether code is exactly digits.Length() ASCII digits.
func WellFormedCode(code string, digits otp.Digits) bool {
	if len(code) != digits.Length() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// ParseURI parses an otpauth URI into a key usable for QR rendering.
func ParseURI(uri string) (*otp.Key, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, err
	}
	if key.Type() != "totp" {
		return nil, errors.New("totp: not a totp uri")
	}
	return key, nil
}

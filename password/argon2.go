package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	// DefaultMinPasswordBytes applies when Config.MinPasswordBytes is zero.
	DefaultMinPasswordBytes = 10
	// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrTooShort is returned by Hash for passwords below the minimum length.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Hash and Verify for passwords above the maximum length.
	ErrTooLong = errors.New("password too long")
)

// Config holds Argon2id cost parameters and the accepted password length range.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinPasswordBytes int
	MaxPasswordBytes int

	// MaxConcurrent caps simultaneous Argon2 evaluations, each of which
	// allocates Memory KiB. Zero means runtime.NumCPU().
	MaxConcurrent int
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
	slots  chan struct{}
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MinPasswordBytes <= 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if cfg.MinPasswordBytes > cfg.MaxPasswordBytes {
		return nil, errors.New("password min length exceeds max length")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU()
	}

	return &Argon2{config: cfg, slots: make(chan struct{}, cfg.MaxConcurrent)}, nil
}

// Hash returns a PHC-encoded Argon2id hash of password with a fresh salt.
// Password bytes are used exactly as provided (no Unicode normalization).
// It returns ctx.Err() if ctx ends while waiting for a free slot.
func (a *Argon2) Hash(ctx context.Context, password string) (string, error) {
	if len(password) < a.config.MinPasswordBytes {
		return "", ErrTooShort
	}
	if len(password) > a.config.MaxPasswordBytes {
		return "", ErrTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	p := PHC{
		Memory:      a.config.Memory,
		Time:        a.config.Time,
		Parallelism: a.config.Parallelism,
		Salt:        salt,
	}
	key, err := a.derive(ctx, password, p, a.config.KeyLength)
	if err != nil {
		return "", err
	}
	p.Key = key
	return p.String(), nil
}

// Verify reports whether password matches encodedHash, comparing in constant
// time. Overlong input fails before any hashing work.
func (a *Argon2) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrTooLong
	}
	p, err := ParsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed, err := a.derive(ctx, password, p, uint32(len(p.Key)))
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, p.Key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := ParsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := p.Memory < a.config.Memory ||
		p.Time < a.config.Time ||
		p.Parallelism < a.config.Parallelism ||
		uint32(len(p.Key)) != a.config.KeyLength
	return weaker, nil
}

func (a *Argon2) derive(ctx context.Context, password string, p PHC, keyLen uint32) ([]byte, error) {
	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.slots }()

	return argon2.IDKey([]byte(password), p.Salt, p.Time, p.Memory, p.Parallelism, keyLen), nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return fmt.Errorf("password time must be >= %d", minTimeCost)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("password parallelism must be >= %d", minParallelism)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultEnrollmentMaxAttempts = 5
	defaultEnrollmentWindow      = 15 * time.Minute
)

var (
	ErrEnrollmentRateLimited = errors.New("enrollment rate limited")
	ErrEnrollmentUnavailable = errors.New("enrollment limiter unavailable")
)

// EnrollmentConfig bounds failed TOTP activation codes per identity.
type EnrollmentConfig struct {
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// EnrollmentLimiter counts wrong activation codes for one identity inside a
// fixed window.
type EnrollmentLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
	prefix      string
}

// NewEnrollmentLimiter creates an activation limiter. Zero-value fields in cfg
// fall back to defaults (5 attempts / 15m, prefix "aen").
func NewEnrollmentLimiter(redisClient redis.UniversalClient, cfg EnrollmentConfig) *EnrollmentLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultEnrollmentMaxAttempts
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultEnrollmentWindow
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "aen"
	}
	return &EnrollmentLimiter{redis: redisClient, maxAttempts: int64(max), window: window, prefix: prefix}
}

func (l *EnrollmentLimiter) key(identityID string) string {
	return l.prefix + ":" + identityID
}

// Check returns ErrEnrollmentRateLimited once the budget is spent.
func (l *EnrollmentLimiter) Check(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(identityID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrEnrollmentRateLimited
	}
	return nil
}

// RecordFailure counts one wrong code. It returns ErrEnrollmentRateLimited
// when this failure spends the last attempt.
func (l *EnrollmentLimiter) RecordFailure(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	count, err := hit(ctx, l.redis, l.key(identityID), l.window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrEnrollmentRateLimited
	}
	return nil
}

func (l *EnrollmentLimiter) Reset(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	return nil
}

package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSignupRateLimited      = errors.New("signup rate limited")
	ErrSignupRedisUnavailable = errors.New("signup redis unavailable")
)

type SignupConfig struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// SignupLimiter throttles identity registration per client IP.
type SignupLimiter struct {
	redis  redis.UniversalClient
	config SignupConfig
}

func NewSignupLimiter(redisClient redis.UniversalClient, cfg SignupConfig) *SignupLimiter {
	return &SignupLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enforce counts one registration attempt from ip. Empty ip is not counted.
func (l *SignupLimiter) Enforce(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}

	count, err := hit(ctx, l.redis, signupIPKey(ip), l.config.Cooldown)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignupRedisUnavailable, err)
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrSignupRateLimited
	}

	return nil
}

func signupIPKey(ip string) string {
	return "asu:" + ip
}

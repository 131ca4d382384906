package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// hitScript bumps a counter and arms its expiry on the first hit of a
// window, in one round trip.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts failed password checks per username and, optionally, per
// client IP.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

// New creates a [Limiter] backed by rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// scopes returns the counter keys consulted for a login attempt.
func (l *Limiter) scopes(username, ip string) []string {
	keys := []string{userKey(username)}
	if l.cfg.EnableIPThrottle && ip != "" {
		keys = append(keys, ipKey(ip))
	}
	return keys
}

// CheckLogin returns ErrRateLimited when any counter for the attempt has
// reached the budget.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	for _, key := range l.scopes(username, ip) {
		n, err := l.read(ctx, key)
		if err != nil {
			return err
		}
		if n >= int64(l.cfg.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records one failed password check. It returns
// ErrRateLimited when the hit exhausted a budget.
func (l *Limiter) IncrementLogin(ctx context.Context, username, ip string) error {
	var limited bool
	for _, key := range l.scopes(username, ip) {
		n, err := hitScript.Run(ctx, l.rdb, []string{key}, l.cfg.LoginCooldownDuration.Milliseconds()).Int64()
		if err != nil {
			return unavailable(err)
		}
		if n >= int64(l.cfg.MaxLoginAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the username counter after a good password. The IP
// counter keeps running so a sprayed address stays throttled.
func (l *Limiter) ResetLogin(ctx context.Context, username string) error {
	if err := l.rdb.Del(ctx, userKey(username)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetLoginAttempts reports the username counter. Unknown usernames read as
// zero.
func (l *Limiter) GetLoginAttempts(ctx context.Context, username string) (int, error) {
	n, err := l.read(ctx, userKey(username))
	if err != nil {
		return 0, err
	}
	return int(max(n, 0)), nil
}

func (l *Limiter) read(ctx context.Context, key string) (int64, error) {
	n, err := l.rdb.Get(ctx, key).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, unavailable(err)
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func userKey(username string) string { return "al:" + username }

func ipKey(ip string) string { return "ali:" + ip }

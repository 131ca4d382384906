package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginThrottleBlocksAtBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected budget left, got %v", err)
	}
	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on third failure, got %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected check to block, got %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("other usernames must not be affected: %v", err)
	}
}

func TestLoginThrottleWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "")
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestResetLoginClearsUsernameOnly(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "alice", "10.0.0.1")
	if err := l.ResetLogin(ctx, "alice"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err := l.GetLoginAttempts(ctx, "alice")
	if err != nil || n != 0 {
		t.Fatalf("expected zero attempts after reset, got %d %v", n, err)
	}
	if err := l.CheckLogin(ctx, "carol", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected per-IP counter to survive reset, got %v", err)
	}
}

func TestRedisFailureIsUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	mr.Close()
	if err := l.CheckLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestWindowStartsAtFirstFailure(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 5, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "")
	mr.FastForward(40 * time.Second)
	_ = l.IncrementLogin(ctx, "alice", "")
	if ttl := mr.TTL("al:alice"); ttl != 20*time.Second {
		t.Fatalf("later hits must not extend the window, ttl=%v", ttl)
	}
	mr.FastForward(21 * time.Second)
	if n, _ := l.GetLoginAttempts(ctx, "alice"); n != 0 {
		t.Fatalf("expected counter gone with its window, got %d", n)
	}
}

func TestIncrementCountsBothScopes(t *testing.T) {
	l, mr := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "10.0.0.7")
	_ = l.IncrementLogin(ctx, "bob", "10.0.0.7")
	if v, _ := mr.Get("ali:10.0.0.7"); v != "2" {
		t.Fatalf("ip counter = %q, want 2", v)
	}
	if v, _ := mr.Get("al:alice"); v != "1" {
		t.Fatalf("user counter = %q, want 1", v)
	}
}

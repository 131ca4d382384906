package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
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
	return rdb, mr
}

func TestEnrollmentLimiterLocksAfterBudget(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := NewEnrollmentLimiter(rdb, EnrollmentConfig{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "id-1"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if err := l.Check(ctx, "id-1"); err != nil {
		t.Fatalf("expected one attempt left, got %v", err)
	}
	if err := l.RecordFailure(ctx, "id-1"); !errors.Is(err, ErrEnrollmentRateLimited) {
		t.Fatalf("expected ErrEnrollmentRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "id-1"); !errors.Is(err, ErrEnrollmentRateLimited) {
		t.Fatalf("expected locked check, got %v", err)
	}
	if err := l.Check(ctx, "id-2"); err != nil {
		t.Fatalf("other identities unaffected: %v", err)
	}
}

func TestEnrollmentLimiterResetAndWindow(t *testing.T) {
	rdb, mr := newTestRedis(t)
	l := NewEnrollmentLimiter(rdb, EnrollmentConfig{MaxAttempts: 1, Window: time.Minute, Prefix: "x"})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "id-1")
	if !mr.Exists("x:id-1") {
		t.Fatal("expected counter under custom prefix")
	}
	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "id-1"); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}

	_ = l.RecordFailure(ctx, "id-1")
	if err := l.Reset(ctx, "id-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "id-1"); err != nil {
		t.Fatalf("expected reset to clear counter: %v", err)
	}
}

func TestNilLimitersAreNoOps(t *testing.T) {
	var e *EnrollmentLimiter
	var s *SignupLimiter
	ctx := context.Background()
	if e.Check(ctx, "x") != nil || e.RecordFailure(ctx, "x") != nil || e.Reset(ctx, "x") != nil {
		t.Fatal("nil enrollment limiter must be a no-op")
	}
	if s.Enforce(ctx, "1.2.3.4") != nil {
		t.Fatal("nil signup limiter must be a no-op")
	}
}

func TestSignupLimiterPerIP(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := NewSignupLimiter(rdb, SignupConfig{EnableIPThrottle: true, MaxAttempts: 2, Cooldown: time.Hour})
	ctx := context.Background()

	if err := l.Enforce(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Enforce(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := l.Enforce(ctx, "10.0.0.1"); !errors.Is(err, ErrSignupRateLimited) {
		t.Fatalf("expected ErrSignupRateLimited, got %v", err)
	}
	if err := l.Enforce(ctx, ""); err != nil {
		t.Fatalf("empty ip is never counted: %v", err)
	}
}

func TestCountersCarryTTLFromFirstFailure(t *testing.T) {
	rdb, mr := newTestRedis(t)
	ctx := context.Background()

	enroll := NewEnrollmentLimiter(rdb, EnrollmentConfig{MaxAttempts: 3, Window: time.Minute})
	if err := enroll.RecordFailure(ctx, "id-1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ttl := mr.TTL("aen:id-1"); ttl != time.Minute {
		t.Fatalf("enrollment counter ttl = %v, want 1m", ttl)
	}
	mr.FastForward(20 * time.Second)
	if err := enroll.RecordFailure(ctx, "id-1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ttl := mr.TTL("aen:id-1"); ttl != 40*time.Second {
		t.Fatalf("later failures must not extend the window, ttl = %v", ttl)
	}

	signup := NewSignupLimiter(rdb, SignupConfig{EnableIPThrottle: true, MaxAttempts: 2, Cooldown: time.Hour})
	if err := signup.Enforce(ctx, "10.0.0.9"); err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if ttl := mr.TTL("asu:10.0.0.9"); ttl != time.Hour {
		t.Fatalf("signup counter ttl = %v, want 1h", ttl)
	}
}

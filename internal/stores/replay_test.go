package stores

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	oldSecret = []byte("12345678901234567890")
	newSecret = []byte("abcdefghijabcdefghij")
)

func TestReplayGuardMarksOncePerStep(t *testing.T) {
	g := NewReplayGuard(newTestRedis(t), "")
	ctx := context.Background()

	if err := g.MarkUsed(ctx, "bob", oldSecret, 100, time.Minute); err != nil {
		t.Fatalf("first MarkUsed failed: %v", err)
	}
	if err := g.MarkUsed(ctx, "bob", oldSecret, 100, time.Minute); !errors.Is(err, ErrCodeReplayed) {
		t.Fatalf("expected ErrCodeReplayed, got %v", err)
	}
	if err := g.MarkUsed(ctx, "bob", oldSecret, 101, time.Minute); err != nil {
		t.Fatalf("next step should be accepted: %v", err)
	}
	if err := g.MarkUsed(ctx, "alice", oldSecret, 100, time.Minute); err != nil {
		t.Fatalf("other identity should be independent: %v", err)
	}

	used, err := g.Used(ctx, "bob", oldSecret, 100)
	if err != nil || !used {
		t.Fatalf("expected step recorded, used=%v err=%v", used, err)
	}
}

func TestReplayGuardScopesStepToSecret(t *testing.T) {
	rdb := newTestRedis(t)
	g := NewReplayGuard(rdb, "arp")
	ctx := context.Background()

	if err := g.MarkUsed(ctx, "bob", oldSecret, 100, time.Minute); err != nil {
		t.Fatalf("old secret: %v", err)
	}
	if err := g.MarkUsed(ctx, "bob", newSecret, 100, time.Minute); err != nil {
		t.Fatalf("a different secret in the same step must be accepted: %v", err)
	}
	used, err := g.Used(ctx, "bob", newSecret, 101)
	if err != nil || used {
		t.Fatalf("unrecorded step reported used=%v err=%v", used, err)
	}

	keys, err := rdb.Keys(ctx, "arp:*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	for _, k := range keys {
		if strings.Contains(k, string(oldSecret)) || strings.Contains(k, string(newSecret)) {
			t.Fatalf("raw secret leaked into key %q", k)
		}
	}
}

func TestReplayGuardConcurrentSingleWinner(t *testing.T) {
	g := NewReplayGuard(newTestRedis(t), "")
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.MarkUsed(context.Background(), "bob", oldSecret, 7, time.Minute) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

package authlab

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	env.addIdentity(t, "alice", "pw")

	_, _ = env.engine.Login(WithClientIP(context.Background(), "203.0.113.1"), "alice", "wrong-password")
	env.engine.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditJSONSinkCarriesNoSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	var buf bytes.Buffer
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(NewJSONWriterSink(&buf)) })
	secret := env.addTOTPIdentity(t, "bob", "pw")

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "auth-lab-test/1.0")
	_, _ = env.engine.Login(ctx, "bob", "super-secret-password")
	res, err := env.engine.Login(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := env.codeNow(t, secret)
	if _, err := env.engine.VerifySecondFactor(ctx, res.PreAuthToken, code); err != nil {
		t.Fatalf("VerifySecondFactor failed: %v", err)
	}
	env.engine.Close()

	out := buf.String()
	for _, needle := range []string{"super-secret-password", res.PreAuthToken, code} {
		if strings.Contains(out, needle) {
			t.Fatalf("audit output leaks %q", needle)
		}
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 audit lines, got %d: %s", len(lines), out)
	}
	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if first.EventType != auditEventLoginFailure || first.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected first event %+v", first)
	}
	if first.Metadata["user_agent"] != "auth-lab-test/1.0" {
		t.Fatalf("expected user agent metadata, got %v", first.Metadata)
	}
	if !first.Timestamp.Equal(testEpoch) {
		t.Fatalf("expected engine clock timestamp, got %s", first.Timestamp)
	}
}

func TestAuditSlogSink(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(NewSlogSink(logger)) })
	env.addIdentity(t, "alice", "pw")

	env.login(t, "alice", "pw")
	_, _ = env.engine.Login(context.Background(), "alice", "nope")
	env.engine.Close()

	out := buf.String()
	if !strings.Contains(out, `"level":"INFO"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("expected INFO and WARN records, got %s", out)
	}
	if !strings.Contains(out, auditEventLoginSuccess) || !strings.Contains(out, auditEventLoginFailure) {
		t.Fatalf("expected event types in output, got %s", out)
	}
}

func TestAuditDropIfFullCountsDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true
	gate := make(chan struct{})
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(blockingSink{gate: gate}) })
	env.addIdentity(t, "alice", "pw")

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(context.Background(), "alice", "nope")
	}

	deadline := time.Now().Add(time.Second)
	for env.engine.AuditDropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	if env.engine.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
}

type blockingSink struct {
	gate chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditStatsCountDeliveredEvents(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	sink := &countingSink{}
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	env.addIdentity(t, "carol", "pw")

	_, _ = env.engine.Login(context.Background(), "carol", "wrong-password")
	_, _ = env.engine.Login(context.Background(), "carol", "pw")
	env.engine.Close()

	stats := env.engine.AuditStats()
	if stats.Delivered != uint64(sink.Count()) || stats.Delivered < 2 {
		t.Fatalf("unexpected stats %+v with %d sink calls", stats, sink.Count())
	}
	if stats.Dropped != 0 || stats.Failed != 0 {
		t.Fatalf("expected no drops or failures, got %+v", stats)
	}
}

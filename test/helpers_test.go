//go:build integration
// +build integration

package test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/store/sqlite"
	"github.com/ksm067300-arch/auth-lab/totp"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type integrationEnv struct {
	engine *authlab.Engine
	store  *sqlite.Store
	clock  *clock
	gen    *totp.Engine
}

func newIntegrationEnv(t *testing.T, rdb redis.UniversalClient) *integrationEnv {
	t.Helper()

	clk := &clock{now: epoch}
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "identities.db"), sqlite.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := authlab.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := authlab.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithClock(clk.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &integrationEnv{engine: engine, store: store, clock: clk, gen: totp.New(totp.Config{})}
}

// enrolled registers username, activates a second factor, and returns the
// raw secret. The session used for enrollment is logged out.
func (e *integrationEnv) enrolled(t *testing.T, username, password string) []byte {
	t.Helper()
	ctx := context.Background()

	if _, err := e.engine.Register(ctx, username, password); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	res, err := e.engine.Login(ctx, username, password)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	setup, err := e.engine.SetupTOTP(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	secret, err := totp.DecodeSecret(setup.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if err := e.engine.ActivateTOTP(ctx, res.AccessToken, setup.Secret, e.code(t, secret)); err != nil {
		t.Fatalf("ActivateTOTP failed: %v", err)
	}
	_ = e.engine.Logout(ctx, res.AccessToken)

	// Step past the window used for activation so login codes are fresh.
	e.clock.Advance(30 * time.Second)
	return secret
}

func (e *integrationEnv) code(t *testing.T, secret []byte) string {
	t.Helper()
	code, err := e.gen.Generate(secret, e.clock.Now())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return code
}

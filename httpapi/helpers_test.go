package httpapi

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/store/sqlite"
	"github.com/ksm067300-arch/auth-lab/totp"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type apiEnv struct {
	engine *authlab.Engine
	server *httptest.Server
	client *Client
	clock  *testClock
	mr     *miniredis.Miniredis
}

func newAPIEnv(t *testing.T, opts Options) *apiEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"), sqlite.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

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
		WithClock(clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv, err := NewServer(engine, opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := NewClient(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	return &apiEnv{engine: engine, server: ts, client: client, clock: clock, mr: mr}
}

func (env *apiEnv) code(t *testing.T, secretB32 string) string {
	t.Helper()
	raw, err := totp.DecodeSecret(secretB32)
	require.NoError(t, err)
	code, err := totp.New(totp.Config{}).Generate(raw, env.clock.Now())
	require.NoError(t, err)
	return code
}

// enrolled registers username, enables two-factor and returns the secret.
func (env *apiEnv) enrolled(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()

	_, err := env.client.Register(ctx, username, testPassword)
	require.NoError(t, err)
	res, err := env.client.Login(ctx, username, testPassword)
	require.NoError(t, err)
	setup, err := env.client.SetupTOTP(ctx, res.AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.client.ActivateTOTP(ctx, res.AccessToken, setup.Secret, env.code(t, setup.Secret)))

	env.clock.Advance(30 * time.Second)
	return setup.Secret
}

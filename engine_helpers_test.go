package authlab

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ksm067300-arch/auth-lab/password"
	"github.com/ksm067300-arch/auth-lab/totp"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryIdentityStore is an in-memory IdentityStore. Setting failWith makes
// every call return that error.
type memoryIdentityStore struct {
	mu         sync.Mutex
	nextID     int
	byName     map[string]*Identity
	byID       map[string]*Identity
	active     map[string]*TOTPSecret
	pending    map[string]*TOTPSecret
	revoked    map[string][]*TOTPSecret
	failWith   error
	activeHits int
}

func newMemoryIdentityStore() *memoryIdentityStore {
	return &memoryIdentityStore{
		byName:  make(map[string]*Identity),
		byID:    make(map[string]*Identity),
		active:  make(map[string]*TOTPSecret),
		pending: make(map[string]*TOTPSecret),
		revoked: make(map[string][]*TOTPSecret),
	}
}

func (s *memoryIdentityStore) setFailure(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *memoryIdentityStore) CreateIdentity(_ context.Context, username, passwordHash string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Identity{}, s.failWith
	}
	if _, ok := s.byName[username]; ok {
		return Identity{}, ErrIdentityExists
	}
	s.nextID++
	identity := &Identity{ID: "id-" + strconv.Itoa(s.nextID), Username: username, PasswordHash: passwordHash}
	s.byName[username] = identity
	s.byID[identity.ID] = identity
	return *identity, nil
}

func (s *memoryIdentityStore) IdentityByUsername(_ context.Context, username string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Identity{}, s.failWith
	}
	identity, ok := s.byName[username]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return *identity, nil
}

func (s *memoryIdentityStore) IdentityByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Identity{}, s.failWith
	}
	identity, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return *identity, nil
}

func (s *memoryIdentityStore) UpdatePasswordHash(_ context.Context, identityID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	identity, ok := s.byID[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	return nil
}

func (s *memoryIdentityStore) ActiveTOTPSecret(_ context.Context, identityID string) (*TOTPSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeHits++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return copySecret(s.active[identityID]), nil
}

func (s *memoryIdentityStore) PendingTOTPSecret(_ context.Context, identityID string) (*TOTPSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return copySecret(s.pending[identityID]), nil
}

func (s *memoryIdentityStore) SavePendingTOTPSecret(_ context.Context, identityID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.pending[identityID] = &TOTPSecret{
		IdentityID: identityID,
		Secret:     append([]byte(nil), secret...),
		Status:     SecretPending,
		CreatedAt:  testEpoch,
	}
	return nil
}

func (s *memoryIdentityStore) ActivateTOTPSecret(_ context.Context, identityID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if cur := s.active[identityID]; cur != nil && subtle.ConstantTimeCompare(cur.Secret, secret) == 1 {
		return ErrSecretAlreadyActive
	}
	p := s.pending[identityID]
	if p == nil || subtle.ConstantTimeCompare(p.Secret, secret) != 1 {
		return ErrSecretNotPending
	}
	if cur := s.active[identityID]; cur != nil {
		cur.Status = SecretRevoked
		s.revoked[identityID] = append(s.revoked[identityID], cur)
	}
	p.Status = SecretActive
	s.active[identityID] = p
	delete(s.pending, identityID)
	return nil
}

// setActive installs secret as ACTIVE without going through enrollment.
func (s *memoryIdentityStore) setActive(identityID string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[identityID] = &TOTPSecret{IdentityID: identityID, Secret: secret, Status: SecretActive}
}

func copySecret(s *TOTPSecret) *TOTPSecret {
	if s == nil {
		return nil
	}
	out := *s
	out.Secret = append([]byte(nil), s.Secret...)
	return &out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinPasswordBytes = 2
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *memoryIdentityStore
	clock  *fakeClock
	logs   *bytes.Buffer
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestEnv(t testing.TB, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMemoryIdentityStore()
	clock := newFakeClock()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithClock(clock.Now).
		WithLogger(logger)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, rdb: rdb, store: store, clock: clock, logs: logs}
}

// addIdentity registers username with pw and returns its id.
func (env *testEnv) addIdentity(t testing.TB, username, pw string) string {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: 1,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash(context.Background(), pw)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	identity, err := env.store.CreateIdentity(context.Background(), username, hash)
	if err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	return identity.ID
}

// addTOTPIdentity registers username with an ACTIVE secret and returns it.
func (env *testEnv) addTOTPIdentity(t testing.TB, username, pw string) []byte {
	t.Helper()
	id := env.addIdentity(t, username, pw)
	secret, err := env.engine.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	env.store.setActive(id, secret)
	return secret
}

func (env *testEnv) codeNow(t testing.TB, secret []byte) string {
	t.Helper()
	code, err := env.engine.totp.Generate(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return code
}

func (env *testEnv) codeNowB32(t testing.TB, secret string) string {
	t.Helper()
	raw, err := totp.DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	return env.codeNow(t, raw)
}

// wrongCode returns a well-formed code that does not validate at the
// current step or its skew neighbours.
func (env *testEnv) wrongCode(t testing.TB, secret []byte) string {
	t.Helper()
	valid := make(map[string]bool)
	base := env.engine.totp.Counter(env.clock.Now())
	for c := base - 3; c <= base+3; c++ {
		code, err := env.engine.totp.GenerateCounter(secret, c)
		if err != nil {
			t.Fatalf("GenerateCounter failed: %v", err)
		}
		valid[code] = true
	}
	for i := 0; i < 1000000; i++ {
		candidate := strconv.Itoa(100000 + i)
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no wrong code found")
	return ""
}

func (env *testEnv) login(t testing.TB, username, pw string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), username, pw)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

var errStoreDown = errors.New("identity store connection refused")

package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/logging"
	"github.com/educ8africa/authcore/password"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-password-123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// Wall-clock based so Redis-side expiry agrees with it.
	return &testClock{now: time.Now().Truncate(time.Second)}
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

func fastParams() password.Params {
	return password.Params{
		MemoryKiB:   8 * 1024,
		Passes:      1,
		Lanes:       1,
		SaltLength:  16,
		KeyLength:   32,
		MinPassword: 10,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte(strings.Repeat("s", 32))
	cfg.Password.Params = fastParams()
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return cfg
}

func newTestCredentials(t testing.TB) *credential.MemoryStore {
	t.Helper()
	hasher, err := password.NewHasher(fastParams())
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	store, err := credential.NewMemoryStore(hasher)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := store.Add(id, "0", testPassword); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return store
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	creds  *credential.MemoryStore
	redis  *miniredis.Miniredis
}

// newTestEngine builds an engine over in-memory stores and a fake clock.
// Extra builder options are applied before Build.
func newTestEngine(t testing.TB, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()
	env := &testEnv{clock: newTestClock(), creds: newTestCredentials(t)}
	b := New().
		WithConfig(cfg).
		WithCredentialStore(env.creds).
		WithClock(env.clock.Now).
		WithLogger(logging.Discard())
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	env.engine = engine
	t.Cleanup(engine.Close)
	return env
}

// newRedisTestEngine builds an engine whose sessions and rate limits live
// in miniredis.
func newRedisTestEngine(t testing.TB, cfg Config) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newTestEngine(t, cfg, func(b *Builder) { b.WithRedis(rdb) })
	env.redis = mr
	return env
}

// forEachBackend runs fn against the memory and Redis backends.
func forEachBackend(t *testing.T, cfg Config, fn func(t *testing.T, env *testEnv)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newTestEngine(t, cfg))
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, newRedisTestEngine(t, cfg))
	})
}

func mustLogin(t testing.TB, e *Engine, identityID string) *TokenPair {
	t.Helper()
	pair, err := e.Login(context.Background(), Credentials{IdentityID: identityID, Password: testPassword}, "device-1")
	if err != nil {
		t.Fatalf("login %s: %v", identityID, err)
	}
	return pair
}

package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RefreshIdentityLimit = 100
	forEachBackend(t, cfg, func(t *testing.T, env *testEnv) {
		pair := mustLogin(t, env.engine, "alice")

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)

		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := env.engine.Refresh(context.Background(), pair.RefreshToken, "device-1")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		success := 0
		fail := 0
		for err := range results {
			if err == nil {
				success++
				continue
			}
			if errors.Is(err, ErrTokenReuseDetected) || errors.Is(err, ErrSessionRevoked) {
				fail++
				continue
			}
			t.Fatalf("unexpected refresh error: %v", err)
		}

		if success != 1 {
			t.Fatalf("expected exactly one refresh success, got %d", success)
		}
		if fail != n-1 {
			t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
		}
	})
}

// countingStore counts password verifications so a test can see how many
// guesses reached the credential store.
type countingStore struct {
	CredentialStore
	verified atomic.Int64
}

func (s *countingStore) VerifyPassword(ctx context.Context, identityID, password string) (bool, error) {
	s.verified.Add(1)
	return s.CredentialStore.VerifyPassword(ctx, identityID, password)
}

func TestLoginConcurrentFailuresRespectBudget(t *testing.T) {
	backends := map[string]func(*testing.T) func(*Builder){
		"memory": func(*testing.T) func(*Builder) {
			return func(*Builder) {}
		},
		"redis": func(t *testing.T) func(*Builder) {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
			t.Cleanup(func() { _ = rdb.Close() })
			return func(b *Builder) { b.WithRedis(rdb) }
		},
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			counting := &countingStore{CredentialStore: newTestCredentials(t)}
			env := newTestEngine(t, testConfig(), backend(t), func(b *Builder) {
				b.WithCredentialStore(counting)
			})

			const n = 40
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func() {
					defer wg.Done()
					_, _ = env.engine.Login(context.Background(), Credentials{IdentityID: "alice", Password: "wrong-password-0"}, "")
				}()
			}
			wg.Wait()

			if got := counting.verified.Load(); got != 5 {
				t.Fatalf("expected exactly 5 password verifications in the burst, got %d", got)
			}
			_, err := env.engine.Login(context.Background(), Credentials{IdentityID: "alice", Password: testPassword}, "")
			if !errors.Is(err, ErrRateLimited) {
				t.Fatalf("expected ErrRateLimited after a concurrent burst, got %v", err)
			}
		})
	}
}

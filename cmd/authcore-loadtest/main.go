// Command authcore-loadtest drives validate and refresh traffic through an
// in-process engine backed by Redis (or miniredis) and reports latencies.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/educ8africa/authcore"
	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/logging"
	"github.com/educ8africa/authcore/password"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	mu   sync.Mutex
	pair *authcore.TokenPair
}

func main() {
	var (
		sessions    = flag.Int("sessions", 2000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (validate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		strict      = flag.Bool("strict", true, "check session state on every validate")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := redisClient(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := buildEngine(client, *sessions, *strict)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		pair, err := engine.Login(ctx, authcore.Credentials{IdentityID: identityFor(i), Password: loadPassword}, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].pair = pair
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) (time.Duration, error) {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		access := state.pair.AccessToken
		state.mu.Unlock()

		t0 := time.Now()
		_, err := engine.ValidateAccess(ctx, access)
		return time.Since(t0), err
	})

	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) (time.Duration, error) {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		t0 := time.Now()
		next, err := engine.Refresh(ctx, state.pair.RefreshToken, "")
		d := time.Since(t0)
		if err == nil {
			state.pair = next
		}
		return d, err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

const loadPassword = "load-test-password"

func identityFor(i int) string { return fmt.Sprintf("user-%d", i) }

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// buildEngine uses cheap password parameters and no rate limits so the
// phases measure session work rather than hashing.
func buildEngine(client redis.UniversalClient, identities int, strict bool) (*authcore.Engine, error) {
	params := password.Params{MemoryKiB: 8 * 1024, Passes: 1, Lanes: 1, SaltLength: 16, KeyLength: 32, MinPassword: 8}
	hasher, err := password.NewHasher(params)
	if err != nil {
		return nil, err
	}
	creds, err := credential.NewMemoryStore(hasher)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}
	for i := 0; i < identities; i++ {
		if err := creds.Put(credential.Identity{ID: identityFor(i), TenantID: "0", PasswordHash: hash}); err != nil {
			return nil, err
		}
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte(strings.Repeat("L", 32))
	cfg.Password.Params = params
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Session.StrictAccess = strict

	return authcore.New().
		WithConfig(cfg).
		WithCredentialStore(creds).
		WithRedis(client).
		WithLogger(logging.Discard()).
		Build()
}

func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand) (time.Duration, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				d, err := op(r)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

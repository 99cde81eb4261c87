package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/educ8africa/authcore"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 0); got != 1 {
		t.Fatalf("p0 = %v", got)
	}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestRunPhaseCountsFailures(t *testing.T) {
	calls := 0
	stats := runPhase(10, 1, 1, func(r *rand.Rand) (time.Duration, error) {
		calls++
		if calls%2 == 0 {
			return time.Millisecond, context.Canceled
		}
		return time.Millisecond, nil
	})
	if stats.ops != 10 || stats.failures != 5 {
		t.Fatalf("ops=%d failures=%d", stats.ops, stats.failures)
	}
}

func TestBuildEngineRefreshes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := buildEngine(client, 2, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	pair, err := engine.Login(ctx, authcore.Credentials{IdentityID: identityFor(1), Password: loadPassword}, "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken, ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

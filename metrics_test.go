package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newMetricsEngine(t *testing.T, reg *prometheus.Registry) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = true
	return newTestEngine(t, cfg, func(b *Builder) { b.WithMetricsRegisterer(reg) })
}

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	env := newTestEngine(t, testConfig())
	if env.engine.metrics != nil {
		t.Fatal("expected nil metrics when disabled")
	}
	mustLogin(t, env.engine, "alice")
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newMetricsEngine(t, reg)
	ctx := context.Background()

	first := mustLogin(t, env.engine, "alice")
	if _, err := env.engine.Login(ctx, Credentials{IdentityID: "alice", Password: "wrong-password-0"}, ""); err == nil {
		t.Fatal("expected failed login")
	}
	if _, err := env.engine.Refresh(ctx, first.RefreshToken, "device-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Refresh(ctx, first.RefreshToken, "device-1"); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse, got %v", err)
	}

	m := env.engine.metrics
	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"login success", m.operations.WithLabelValues(opLogin, "success"), 1},
		{"login invalid", m.operations.WithLabelValues(opLogin, "invalid_credentials"), 1},
		{"refresh success", m.operations.WithLabelValues(opRefresh, "success"), 1},
		{"refresh reuse", m.operations.WithLabelValues(opRefresh, "reuse_detected"), 1},
		{"reuse event", m.security.WithLabelValues("reuse_detected"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, got, c.want)
		}
	}

	if n := testutil.CollectAndCount(reg, "authcore_operation_duration_seconds"); n == 0 {
		t.Fatal("expected latency histogram series")
	}
	if n := testutil.CollectAndCount(reg, "authcore_audit_dropped_total"); n != 1 {
		t.Fatalf("expected audit dropped counter, got %d series", n)
	}
}

func TestMetricsRateLimitScope(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newMetricsEngine(t, reg)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = env.engine.Login(ctx, Credentials{IdentityID: "bob", Password: "wrong-password-0"}, "")
	}
	if got := testutil.ToFloat64(env.engine.metrics.rateLimited.WithLabelValues("login:id")); got != 1 {
		t.Fatalf("expected one login:id denial, got %v", got)
	}
}

func TestMetricsDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	newMetricsEngine(t, reg)

	cfg := testConfig()
	cfg.Metrics.Enabled = true
	_, err := New().
		WithConfig(cfg).
		WithCredentialStore(newTestCredentials(t)).
		WithMetricsRegisterer(reg).
		Build()
	if err == nil {
		t.Fatal("expected registration conflict")
	}
}

func TestOutcomeLabels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{ErrInvalidCredentials, "invalid_credentials"},
		{&RateLimitError{Scope: "login:id"}, "rate_limited"},
		{classify(ErrTokenReuseDetected, ErrUnavailable), "reuse_detected"},
		{ErrSessionRevoked, "session_revoked"},
		{ErrUnavailable, "unavailable"},
		{errors.New("boom"), "internal_error"},
	}
	for _, c := range cases {
		if got := outcome(c.err); got != c.want {
			t.Fatalf("outcome(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

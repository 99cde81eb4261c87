package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/educ8africa/authcore/internal/audit"
	"github.com/educ8africa/authcore/internal/rate"
	"github.com/educ8africa/authcore/session"
	"github.com/educ8africa/authcore/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/educ8africa/authcore"

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config       Config
	credentials  CredentialStore
	sessionStore session.Store
	redis        redis.UniversalClient
	postgres     session.DB

	auditSink      AuditSink
	logger         *slog.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCredentialStore sets the identity backend. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithSessionStore sets an explicit session store, overriding WithRedis
// and WithPostgres for sessions.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithRedis backs rate limiting with Redis, and sessions too unless
// WithPostgres or WithSessionStore is also given.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres backs sessions with PostgreSQL. Accepts a *pgxpool.Pool.
func (b *Builder) WithPostgres(db session.DB) *Builder {
	b.postgres = db
	return b
}

// WithAuditSink routes audit events to sink. Without one, events are
// logged through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer registers engine collectors on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithTracerProvider sets the span source. Defaults to the global provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock overrides the time source of tokens, sessions and the
// in-memory rate limiter.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store is required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := token.NewCodec(cfg.tokenConfig(now))
	if err != nil {
		return nil, err
	}

	store := b.sessionStore
	switch {
	case store != nil:
	case b.postgres != nil:
		store = session.NewPostgresStore(b.postgres)
	case b.redis != nil:
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	default:
		store = session.NewMemoryStore()
	}
	ledger := session.NewLedger(store, session.Config{
		MaxLineageDepth:          cfg.Session.MaxLineageDepth,
		RequireDeviceFingerprint: cfg.Session.RequireDeviceFingerprint,
		BindDevice:               cfg.Session.BindDevice,
		Now:                      now,
	})

	limits, err := newLimiters(cfg.RateLimit, b.redis, now)
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	var dropped func() float64
	if dispatcher != nil {
		dropped = func() float64 { return float64(dispatcher.Dropped()) }
	}
	metrics, err := newMetrics(cfg.Metrics, b.registerer, dropped)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	b.built = true
	return &Engine{
		config:      cfg,
		codec:       codec,
		ledger:      ledger,
		credentials: b.credentials,
		limits:      limits,
		audit:       dispatcher,
		metrics:     metrics,
		logger:      logger,
		tracer:      tp.Tracer(tracerName),
		now:         now,
	}, nil
}

// limiters holds one sliding-window limiter per budget.
type limiters struct {
	loginIdentity   rate.Limiter
	loginIP         rate.Limiter
	refreshIdentity rate.Limiter
	refreshIP       rate.Limiter
}

func newLimiters(cfg RateLimitConfig, client redis.UniversalClient, now func() time.Time) (*limiters, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	build := func(scope string, limit int, window time.Duration) (rate.Limiter, error) {
		p := rate.Policy{Limit: limit, Window: window}
		if client != nil {
			return rate.NewRedis(client, cfg.RedisPrefix+":"+scope, p, now)
		}
		return rate.NewMemory(p, now)
	}

	var l limiters
	var err error
	if l.loginIdentity, err = build("li", cfg.LoginIdentityLimit, cfg.LoginWindow); err != nil {
		return nil, err
	}
	if l.loginIP, err = build("lip", cfg.LoginIPLimit, cfg.LoginWindow); err != nil {
		return nil, err
	}
	if l.refreshIdentity, err = build("rid", cfg.RefreshIdentityLimit, cfg.RefreshWindow); err != nil {
		return nil, err
	}
	if l.refreshIP, err = build("rip", cfg.RefreshIPLimit, cfg.RefreshWindow); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *limiters) all() []rate.Limiter {
	if l == nil {
		return nil
	}
	return []rate.Limiter{l.loginIdentity, l.loginIP, l.refreshIdentity, l.refreshIP}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/educ8africa/authcore"
	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/httpapi"
	"github.com/educ8africa/authcore/internal/logging"
	"github.com/educ8africa/authcore/password"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := newViper(envFile)
			if addr != "" {
				v.Set("http_addr", addr)
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AUTHCORE_HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg *serverConfig) error {
	logger, err := logging.New(logging.Options{
		Service: "authcore",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	}, nil)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	hasher, err := password.NewHasher(engineCfg.Password.Params)
	if err != nil {
		return err
	}
	creds, err := credential.NewPostgresStore(pool, hasher)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	builder := authcore.New().
		WithConfig(engineCfg).
		WithCredentialStore(creds).
		WithPostgres(pool).
		WithLogger(logger).
		WithMetricsRegisterer(reg)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "redis_url").Wrap(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		builder.WithRedis(rdb)
	} else {
		logger.Warn("REDIS_URL not set, rate limits are per process")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return oops.Code("DB_UNREACHABLE").Wrap(err)
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Engine:         engine,
		Logger:         logger,
		CookieName:     cfg.CookieName,
		CookieSecure:   cfg.CookieSecure,
		HashedAPIKey:   cfg.HashedAPIKey,
		AllowOrigins:   cfg.AllowOrigins,
		TrustedProxies: cfg.TrustedProxies,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return runJanitor(ctx, engine, cfg.JanitorInterval, logger)
	})

	err = g.Wait()
	logger.Info("stopped", "audit_dropped", engine.AuditDropped())
	return err
}

type purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// runJanitor purges expired sessions every interval until ctx ends.
func runJanitor(ctx context.Context, p purger, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "purge expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				logger.DebugContext(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/seed"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.Storage).
		Str("clinic_tz", cfg.ClinicLocation.String()).
		Msg("api-server starting up")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api-server stopped")
	}
	logger.Info().Msg("api-server shut down cleanly")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewSchedulingMetrics(reg)

	var (
		repo   appointment.Repository
		checks []api.HealthCheck
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to Postgres")

		repo = appointment.NewPgRepository(pool, cfg.ClinicLocation)
		checks = append(checks, api.HealthCheck{Name: "postgres", Critical: true, Check: pool.Ping})

	case config.StorageMemory:
		store := appointment.NewMemoryStore()
		gen := seed.NewGenerator(cfg.SeedValue)
		if err := seed.Directory(rootCtx, store, gen, cfg.SeedDoctors, cfg.SeedPatients, logger); err != nil {
			return err
		}
		logger.Warn().Msg("memory storage: appointments are lost on restart")

		repo = store
		checks = append(checks, api.HealthCheck{Name: "memory", Critical: true, Check: func(context.Context) error { return nil }})
	}

	// The interface stays nil unless redis is configured.
	var idem api.IdempotencyStore
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		var err error
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")

		idem = redisclient.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL)
		checks = append(checks, api.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	g, ctx := errgroup.WithContext(rootCtx)

	// Only one process may own the in-memory core for a database.
	if rdb != nil && cfg.Storage == config.StoragePostgres {
		lease, err := redisclient.AcquireLease(rootCtx, rdb, "scheduler", cfg.LeaseTTL, logger)
		if err != nil {
			return fmt.Errorf("acquire writer lease: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				logger.Warn().Err(err).Msg("release writer lease")
			}
		}()
		g.Go(func() error { return lease.Keep(ctx) })
	} else if cfg.Storage == config.StoragePostgres {
		logger.Warn().Msg("redis disabled: running without a writer lease, do not start a second instance")
	}

	svc := appointment.NewService(repo, appointment.SchedulerConfig{
		Location:        cfg.ClinicLocation,
		WindowDays:      cfg.WindowDays,
		ReleaseOnCancel: cfg.ReleaseOnCancel,
	}, logger, m)

	hydrateCtx, cancelHydrate := context.WithTimeout(rootCtx, time.Minute)
	err := svc.Hydrate(hydrateCtx)
	cancelHydrate()
	if err != nil {
		return err
	}

	// The persister outlives the HTTP server so changes made by in-flight
	// requests are drained after Shutdown returns.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	g.Go(func() error { return svc.RunPersister(persistCtx, cfg.ShutdownTimeout) })

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:     svc,
			Idempotency: idem,
			Checks:      checks,
			Metrics:     m,
			Gatherer:    reg,
			Logger:      logger,
			Env:         cfg.Env,
			Version:     version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down api-server")
		defer stopPersist()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

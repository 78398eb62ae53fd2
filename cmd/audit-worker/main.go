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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("audit-worker", cfg.Env, cfg.LogLevel)

	if cfg.Storage != config.StoragePostgres {
		logger.Fatal().Str("storage", cfg.Storage).Msg("audit worker needs postgres storage")
	}

	logger.Info().Dur("interval", cfg.AuditInterval).Strs("checks", appointment.AuditChecks()).Msg("audit-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulingMetrics(reg)
	srv := &http.Server{
		Addr:              ":" + cfg.AuditPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	repo := appointment.NewPgRepository(pgPool, cfg.ClinicLocation)

	// Run once at startup
	runOnce(rootCtx, repo, m, logger)

	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping audit worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, m, logger)
		}
	}
}

func runOnce(ctx context.Context, repo *appointment.PgRepository, m *metrics.SchedulingMetrics, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	findings, err := repo.Audit(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("audit run error")
		return
	}

	for _, f := range findings {
		logger.Error().
			Str("check", f.Check).
			Str("subject", f.Subject).
			Int64("count", f.Count).
			Msg("scheduling invariant violated in storage")
		m.AddAuditViolations(f.Check, 1)
	}
	logger.Info().
		Int("violations", len(findings)).
		Dur("took", time.Since(start)).
		Msg("audit run complete")
}

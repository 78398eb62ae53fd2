package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)

	if cfg.Storage != config.StoragePostgres {
		logger.Fatal().Msg("seed writes to postgres; memory storage seeds itself at startup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool, cfg.ClinicLocation)
	gen := seed.NewGenerator(cfg.SeedValue)
	if err := seed.Directory(ctx, repo, gen, cfg.SeedDoctors, cfg.SeedPatients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed directory")
	}
}

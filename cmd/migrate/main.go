package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the clinic scheduling database schema",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator, logger zerolog.Logger) error {
				if err := m.Up(); err != nil {
					return err
				}
				return logVersion(m, logger)
			})
		},
	})

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withMigrator(cmd.Context(), func(m *db.Migrator, logger zerolog.Logger) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return logVersion(m, logger)
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	rootCmd.AddCommand(downCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version must be an integer: %w", err)
			}
			return withMigrator(cmd.Context(), func(m *db.Migrator, logger zerolog.Logger) error {
				if err := m.Force(v); err != nil {
					return err
				}
				return logVersion(m, logger)
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator, _ zerolog.Logger) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			})
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// withMigrator opens the migrator and runs fn, holding the redis "migrate"
// lock when redis is configured so two deploys never migrate at once.
func withMigrator(ctx context.Context, fn func(*db.Migrator, zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New("migrate", cfg.Env, cfg.LogLevel)
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	if !cfg.RedisEnabled() {
		return fn(m, logger)
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection error: %w", err)
	}
	defer rdb.Close()

	locker := redisclient.NewRedisLocker(rdb, 5*time.Minute)
	return locker.WithLock(ctx, "migrate", func(context.Context) error {
		return fn(m, logger)
	})
}

func logVersion(m *db.Migrator, logger zerolog.Logger) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	return nil
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/offroad-parts/checkout/migrations"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var postgresURL, schema string

	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the checkout database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if postgresURL == "" {
				postgresURL = os.Getenv("POSTGRES_URL")
			}
			if postgresURL == "" {
				return errors.New("POSTGRES_URL environment variable or --database flag is required")
			}
			if !cmd.Flags().Changed("schema") {
				if env, ok := os.LookupEnv("DB_SCHEMA"); ok {
					schema = env
				}
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&postgresURL, "database", "", "Postgres connection URL (defaults to $POSTGRES_URL)")
	rootCmd.PersistentFlags().StringVar(&schema, "schema", "checkout", "schema holding the tables and migration history ($DB_SCHEMA when unset)")

	rootCmd.AddCommand(upCmd(logger, &postgresURL, &schema))
	rootCmd.AddCommand(downCmd(logger, &postgresURL, &schema))
	rootCmd.AddCommand(versionCmd(logger, &postgresURL, &schema))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func upCmd(logger *slog.Logger, postgresURL, schema *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrations.New(*postgresURL, *schema)
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			err = m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("no pending migrations")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migration up failed: %w", err)
			}
			logger.Info("migrations applied successfully", slog.String("schema", *schema))
			return nil
		},
	}
}

func downCmd(logger *slog.Logger, postgresURL, schema *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			m, err := migrations.New(*postgresURL, *schema)
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			err = m.Steps(-steps)
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("no migrations to rollback")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			logger.Info("migrations rolled back successfully", slog.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	return cmd
}

func versionCmd(logger *slog.Logger, postgresURL, schema *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrations.New(*postgresURL, *schema)
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				logger.Info("no migrations applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
			return nil
		},
	}
}

package main

import (
	"LockerLedger/internal/config"
	"LockerLedger/internal/observability"
	"LockerLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		migrationsDir string
	)

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back LockerLedger schema migrations",
		Long:         "Reads the Postgres DSN from --config or LOCKER_POSTGRES_DSN.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	root.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (overrides config)")

	withMigrator := func(run func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir := cfg.MigrationsDir
			if migrationsDir != "" {
				dir = migrationsDir
			}

			db, err := sql.Open("postgres", cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.LogLevel))
			return run(cmd.Context(), cmd, persistence.NewMigrator(db, dir, logger))
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations applied")
			return nil
		}),
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
			if err := m.Down(ctx); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "last migration rolled back")
			return nil
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations that have not been applied",
		RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
			pending, err := m.Pending(ctx)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				return nil
			}
			for _, v := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "pending %s\n", v)
			}
			return nil
		}),
	}

	root.AddCommand(up, down, status)
	return root
}

package main

import (
	"errors"
	"fmt"
	"strconv"

	"zkdpp/internal/repository/postgres"
	"zkdpp/pkg/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version|force VERSION]",
	Short:     "Manage the attempt audit schema",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down", "version", "force"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}
		path := migrationsPath
		if path == "" {
			path = cfg.Database.MigrationsPath
		}

		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := postgres.NewMigrator(db, path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch args[0] {
		case "up":
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(out, "migrations applied")

		case "down":
			if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration rollback failed: %w", err)
			}
			fmt.Fprintln(out, "migrations rolled back")

		case "version":
			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			fmt.Fprintf(out, "current version: %d (dirty: %t)\n", version, dirty)

		case "force":
			if len(args) < 2 {
				return errors.New("usage: migrate force VERSION")
			}
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}
			if err := m.Force(version); err != nil {
				return fmt.Errorf("force migration failed: %w", err)
			}
			fmt.Fprintf(out, "forced version to %d\n", version)

		default:
			return fmt.Errorf("unknown command: %s", args[0])
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", "", "migrations source URL (default MIGRATIONS_PATH or file://migrations)")
}

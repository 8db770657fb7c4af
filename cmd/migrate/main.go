package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/codegraph-sync/internal/config"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the codegraph-sync relational schema",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config.yaml (defaults and env vars used otherwise)")

	root.AddCommand(newUpCmd(&configPath), newStatusCmd(&configPath))
	return root
}

func newUpCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, table, logger, err := openFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrations.Up(cmd.Context(), db, migrations.Config{Dialect: dialect, Table: table, Logger: logger})
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, table, logger, err := openFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := migrations.Status(cmd.Context(), db, migrations.Config{Dialect: dialect, Table: table, Logger: logger})
			if err != nil {
				return err
			}
			fmt.Printf("schema version: %d\n", version)
			return nil
		},
	}
}

// openFromConfig loads the storage section of the app configuration and
// opens the matching stdlib *sql.DB, so migrate applies schema against
// whichever backend the running deployment profile uses.
func openFromConfig(configPath string) (*sql.DB, string, string, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, "", "", nil, fmt.Errorf("migrate: load config: %w", err)
	}

	logger := slog.Default()

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, "", "", nil, fmt.Errorf("migrate: open postgres: %w", err)
		}
		if err := db.PingContext(context.Background()); err != nil {
			db.Close()
			return nil, "", "", nil, fmt.Errorf("migrate: ping postgres: %w", err)
		}
		return db, "postgres", cfg.Storage.MigrationTable, logger, nil
	default:
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", cfg.Storage.SQLitePath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", "", nil, fmt.Errorf("migrate: open sqlite: %w", err)
		}
		if err := db.PingContext(context.Background()); err != nil {
			db.Close()
			return nil, "", "", nil, fmt.Errorf("migrate: ping sqlite: %w", err)
		}
		return db, "sqlite3", cfg.Storage.MigrationTable, logger, nil
	}
}

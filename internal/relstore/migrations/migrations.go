// Package migrations applies this module's own persisted schema via goose:
// the rollback store's three tables (rollback_points, rollback_operations,
// rollback_snapshots) and the reference graph store's two tables
// (graph_entities, graph_relationships). Scoped deliberately to this
// module's own tables; it does not aim to be a general migration framework.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var migrationFS embed.FS

// Config configures the migration runner.
type Config struct {
	Dialect string // "postgres" or "sqlite3"
	Table   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Dialect == "" {
		c.Dialect = "postgres"
	}
	if c.Table == "" {
		c.Table = "codegraph_sync_migrations"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Up applies all pending migrations against db.
func Up(ctx context.Context, db *sql.DB, cfg Config) error {
	cfg.setDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	dir, err := migrationDir(cfg.Dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrationFS)
	goose.SetTableName(cfg.Table)
	if err := goose.SetDialect(cfg.Dialect); err != nil {
		return fmt.Errorf("relstore/migrations: set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("relstore/migrations: up: %w", err)
	}
	cfg.Logger.Info("rollback store schema up to date", "dialect", cfg.Dialect, "table", cfg.Table)
	return nil
}

// Status reports the current migration version.
func Status(ctx context.Context, db *sql.DB, cfg Config) (int64, error) {
	cfg.setDefaults()
	goose.SetBaseFS(migrationFS)
	goose.SetTableName(cfg.Table)
	if err := goose.SetDialect(cfg.Dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}

func migrationDir(dialect string) (string, error) {
	switch dialect {
	case "postgres":
		return "sql/postgres", nil
	case "sqlite3":
		return "sql/sqlite", nil
	default:
		return "", fmt.Errorf("relstore/migrations: unsupported dialect %q", dialect)
	}
}

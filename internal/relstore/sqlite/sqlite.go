// Package sqlite implements core.RelStore on top of the embedded, pure-Go
// modernc.org/sqlite driver, for the single-node deployment profile.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver (no CGO, easier cross-compilation)
	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// RelStore implements core.RelStore using an embedded SQLite database.
type RelStore struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// New opens (creating if needed) the SQLite database at path.
func New(ctx context.Context, path string, logger *slog.Logger) (*RelStore, error) {
	if path == "" {
		return nil, fmt.Errorf("relstore/sqlite: path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("relstore/sqlite: invalid path contains '..': %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("relstore/sqlite: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("relstore/sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("relstore/sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("relstore/sqlite: enable foreign keys: %w", err)
	}

	return &RelStore{db: db, logger: logger, path: path}, nil
}

// Exec runs a mutating statement. SQLite's "?" placeholders are native here,
// so no rebinding is needed.
func (r *RelStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Query runs a read statement.
func (r *RelStore) Query(ctx context.Context, query string, args ...any) (core.RelRows, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

// BeginTx starts a transaction.
func (r *RelStore) BeginTx(ctx context.Context) (core.RelTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

// Close closes the underlying database handle.
func (r *RelStore) Close() error {
	return r.db.Close()
}

// DB exposes the underlying *sql.DB, for callers that need to run schema
// migrations against this store (core.RelStore intentionally has no such
// accessor, since postgres.RelStore has no single *sql.DB to offer).
func (r *RelStore) DB() *sql.DB { return r.db }

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Close() error           { return r.rows.Close() }
func (r *sqlRows) Err() error             { return r.rows.Err() }

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (core.RelRows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

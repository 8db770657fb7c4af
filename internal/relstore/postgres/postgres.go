// Package postgres implements core.RelStore on top of a pgxpool connection
// pool, for the horizontally-scalable deployment profile.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// RelStore implements core.RelStore using a pgxpool.Pool.
type RelStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL using config and returns a ready RelStore.
func New(ctx context.Context, config *PostgresConfig, logger *slog.Logger) (*RelStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("relstore/postgres: invalid config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("relstore/postgres: parse DSN: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = config.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("relstore/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relstore/postgres: ping: %w", err)
	}

	logger.Info("connected to PostgreSQL", "host", config.Host, "database", config.Database, "max_conns", config.MaxConns)
	return &RelStore{pool: pool, logger: logger}, nil
}

var bindParam = regexp.MustCompile(`\?`)

// rebind rewrites "?"-style placeholders to pgx's positional "$N" syntax, so
// rollbackstore's queries stay engine-agnostic.
func rebind(query string) string {
	n := 0
	return bindParam.ReplaceAllStringFunc(query, func(string) string {
		n++
		return fmt.Sprintf("$%d", n)
	})
}

// Exec runs a mutating statement.
func (r *RelStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.pool.Exec(ctx, rebind(query), args...)
	return err
}

// Query runs a read statement.
func (r *RelStore) Query(ctx context.Context, query string, args ...any) (core.RelRows, error) {
	rows, err := r.pool.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

// BeginTx starts a transaction.
func (r *RelStore) BeginTx(ctx context.Context) (core.RelTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

// Close releases all pooled connections.
func (r *RelStore) Close() error {
	r.pool.Close()
	return nil
}

// HealthCheck pings the pool, for wiring into core.GraphStore-adjacent
// health surfaces (e.g. the monitoring component's dependency checks).
func (r *RelStore) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Err() error             { return r.rows.Err() }
func (r *pgxRows) Close() error {
	r.rows.Close()
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, rebind(query), args...)
	return err
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) (core.RelRows, error) {
	rows, err := t.tx.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

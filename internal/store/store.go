// Package store is the typed gateway to the canonical relational store.
// Every operation either succeeds or fails with one of the sentinel error
// kinds below. Idempotence relies on unique constraints plus ON CONFLICT
// DO NOTHING; no multi-row transactions are assumed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PageSize is the natural page size of the backing store. Callers scanning a
// whole table iterate pages until a short page comes back.
const PageSize = 1000

// Sentinel error kinds. Callers match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrConstraint = errors.New("constraint violation")
	ErrTransport  = errors.New("transport error")
)

// querier is the subset of pgxpool.Pool the gateway uses; pgxmock satisfies
// it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type closer interface {
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store provides typed access to companies, locations, postings, runs,
// queries and enrichment rows.
type Store struct {
	pool querier
}

// New connects a Store to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if c, ok := s.pool.(closer); ok {
		c.Close()
	}
}

// mapError folds pgx errors into the gateway's sentinel kinds.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ErrConstraint)
		case "23503", "23502", "23514":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, ErrConflict)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrTransport)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the repositories use
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ExtPool wraps a connection pool with the per-query timeout every repository applies
type ExtPool struct {
	DB
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New opens a pgx pool and verifies the connection
func New(ctx context.Context, dsn string, queryTimeout time.Duration) (*ExtPool, error) {
	const op = "storage.postgres.New"

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse dsn: %w", op, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &ExtPool{DB: pool, pool: pool, queryTimeout: queryTimeout}, nil
}

// NewExtPool wraps an existing DB, used with pool mocks in tests
func NewExtPool(db DB, queryTimeout time.Duration) *ExtPool {
	return &ExtPool{DB: db, queryTimeout: queryTimeout}
}

// WithTimeout bounds a single store operation
func (p *ExtPool) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.queryTimeout)
}

// Ping checks the pool is reachable
func (p *ExtPool) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	ctx, cancel := p.WithTimeout(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close ends the pool connections
func (p *ExtPool) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// IsUniqueViolation reports whether err is a unique constraint violation, optionally on a named constraint
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// InTx runs fn in a transaction, rolling back on error
func (p *ExtPool) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("rollback: %v: %w", rollbackErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// Runner adapts a pool to the per-module txRunner interfaces so services can
// be exercised in tests without a live database.
type Runner struct {
	Pool *pgxpool.Pool
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return WithTx(ctx, r.Pool, fn)
}

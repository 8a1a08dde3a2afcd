package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SerializationFailure is the SQLSTATE raised when a repeatable read
// transaction loses a race with a concurrent commit.
const SerializationFailure = "40001"

// TxConfig tunes a transaction opened by WithTx.
type TxConfig struct {
	Options pgx.TxOptions
	// LockTimeout bounds how long row locks are awaited; zero keeps the server default.
	LockTimeout time.Duration
}

// DefaultTxConfig is repeatable read with no lock timeout.
var DefaultTxConfig = TxConfig{Options: pgx.TxOptions{IsoLevel: pgx.RepeatableRead}}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxConfig(ctx, pool, DefaultTxConfig, fn)
}

// WithTxConfig executes fn within a transaction opened with cfg. The
// transaction is rolled back unless fn and the commit both succeed.
func WithTxConfig(ctx context.Context, pool *pgxpool.Pool, cfg TxConfig, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, cfg.Options)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.LockTimeout > 0 {
		// SET LOCAL does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// IsSerializationFailure reports whether err carries SQLSTATE 40001.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailure
}

// RetrySerializable runs attempt until it stops failing with a
// serialization failure, at most attempts times. Each call must open a new
// transaction so it reads a fresh snapshot.
func RetrySerializable(ctx context.Context, attempts int, attempt func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = attempt(); !IsSerializationFailure(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
	return err
}

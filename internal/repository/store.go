package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"

	maxTxAttempts = 3
)

// Store scopes Queries to the pool or to a single transaction.
type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
	txOpts  pgx.TxOptions
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:    pool,
		queries: New(pool),
		txOpts:  pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
}

// Queries runs each call in its own implicit transaction.
func (s *Store) Queries() Querier {
	return s.queries
}

// RunInTx runs fn in a read-committed transaction, committing when fn returns nil.
// Settlement transitions lock rows with SELECT ... FOR UPDATE, so a deadlock or
// serialization failure reruns fn from the start on a fresh transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	for attempt := 1; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, s.txOpts, func(tx pgx.Tx) error {
			return fn(s.queries.WithTx(tx))
		})
		if err == nil || !retryableTxError(err) {
			return err
		}
		if attempt == maxTxAttempts || ctx.Err() != nil {
			return fmt.Errorf("transaction aborted after %d attempts: %w", attempt, err)
		}
		zap.L().Warn("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

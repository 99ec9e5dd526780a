package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stock-portfolio/internal/logging"
)

// TxManager runs a function inside one database transaction.
//
// The transaction is rolled back if fn returns an error, if fn panics (the
// panic is re-raised afterwards) or if ctx is cancelled before commit.
//
//	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    if _, err := tx.Exec(ctx, insertOrder, ...); err != nil {
//	        return err // rolls back
//	    }
//	    return upsertHolding(ctx, tx, ...)
//	})
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *PostgresDB) (*TxManager, error) {
	if db == nil || db.Pool() == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &TxManager{pool: db.Pool()}, nil
}

// WithTransaction executes fn in a read-committed transaction
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return m.WithTransactionOptions(ctx, pgx.TxOptions{}, fn)
}

// WithTransactionOptions executes fn in a transaction with custom options
func (m *TxManager) WithTransactionOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	logger := logging.FromContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logger.WithError(rbErr).Error("failed to rollback transaction after panic")
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		// the original ctx may already be cancelled; rollback must still reach the server
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.WithFields(map[string]interface{}{
				"error":         rbErr.Error(),
				"originalError": err.Error(),
			}).Error("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

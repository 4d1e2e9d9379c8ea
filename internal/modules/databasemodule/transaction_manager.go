package databasemodule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/logger"
	"gorm.io/gorm"
)

// TransactionManager runs database work under gate admission on the
// blocking executor. Writers hold exclusive admission from before Begin
// until after commit or rollback; readers share admission.
type TransactionManager struct {
	db   *gorm.DB
	gate *Gate
	exec *Executor
}

// NewTransactionManager creates a transaction manager over the given gate
// and executor.
func NewTransactionManager(db *gorm.DB, gate *Gate, exec *Executor) *TransactionManager {
	return &TransactionManager{
		db:   db,
		gate: gate,
		exec: exec,
	}
}

// withAccess acquires admission on the caller's context, then runs fn on an
// executor worker. The admission slot is returned by whichever side owns the
// task: the worker when the task ran, the caller when cancellation or
// shutdown won the race and the task body will never execute.
func (tm *TransactionManager) withAccess(ctx context.Context, access Access, fn func() error) error {
	release, err := tm.gate.Acquire(ctx, access)
	if err != nil {
		return err
	}

	var claimed atomic.Bool
	runErr := tm.exec.Run(ctx, func() error {
		if !claimed.CompareAndSwap(false, true) {
			return context.Canceled
		}
		defer release()
		return fn()
	})
	if runErr != nil && claimed.CompareAndSwap(false, true) {
		release()
	}
	return runErr
}

// WithReadTx runs fn with shared read admission. The session is bound to
// ctx so queries fail promptly on cancellation.
func (tm *TransactionManager) WithReadTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return tm.withAccess(ctx, ReadAccess, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(tm.db.WithContext(ctx))
	})
}

// WithWriteTx runs fn inside a transaction under exclusive write admission.
// The transaction commits when fn returns nil and rolls back otherwise;
// either way the admission slot is released only after the transaction has
// terminated.
func (tm *TransactionManager) WithWriteTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return tm.withAccess(ctx, WriteAccess, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := tm.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return errors.NewStorageError("failed to begin transaction", tx.Error)
		}

		if err := fn(tx); err != nil {
			// Cancellation terminates the transaction at the sql layer, so
			// a rollback error is only worth reporting on a live context.
			if rbErr := tx.Rollback().Error; rbErr != nil && ctx.Err() == nil {
				logger.Error("Failed to rollback transaction: %v", rbErr)
			}
			return err
		}

		if err := tx.Commit().Error; err != nil {
			return errors.NewStorageError("failed to commit transaction", err)
		}
		return nil
	})
}

// TransactionContext is a manually managed write transaction. Callers must
// finish it with Commit or Rollback; the write admission slot is held until
// they do.
type TransactionContext struct {
	tx      *gorm.DB
	release func()
	started time.Time
	id      string
}

// BeginTransaction acquires exclusive write admission and opens a
// transaction on the caller's goroutine. Prefer WithWriteTx for batch work;
// this form exists for callers that need to interleave their own logic with
// an open transaction.
func (tm *TransactionManager) BeginTransaction(ctx context.Context) (*TransactionContext, error) {
	release, err := tm.gate.Acquire(ctx, WriteAccess)
	if err != nil {
		return nil, err
	}

	tx := tm.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		release()
		return nil, errors.NewStorageError("failed to begin transaction", tx.Error)
	}

	txCtx := &TransactionContext{
		tx:      tx,
		release: release,
		started: time.Now(),
		id:      fmt.Sprintf("tx_%d", time.Now().UnixNano()),
	}

	logger.Debug("Started transaction: %s", txCtx.id)
	return txCtx, nil
}

// Commit commits the transaction and releases write admission.
func (tc *TransactionContext) Commit() error {
	if tc.tx == nil {
		return errors.NewStorageError("transaction already finished", nil)
	}

	err := tc.tx.Commit().Error
	tc.tx = nil
	tc.release()

	if err != nil {
		return errors.NewStorageError("failed to commit transaction", err)
	}
	logger.Debug("Committed transaction %s (duration: %v)", tc.id, time.Since(tc.started))
	return nil
}

// Rollback rolls the transaction back and releases write admission.
func (tc *TransactionContext) Rollback() error {
	if tc.tx == nil {
		return errors.NewStorageError("transaction already finished", nil)
	}

	err := tc.tx.Rollback().Error
	tc.tx = nil
	tc.release()

	if err != nil {
		return errors.NewStorageError("failed to rollback transaction", err)
	}
	logger.Debug("Rolled back transaction %s (duration: %v)", tc.id, time.Since(tc.started))
	return nil
}

// DB returns the transaction handle, or nil once finished.
func (tc *TransactionContext) DB() *gorm.DB {
	return tc.tx
}

// ID returns the transaction identifier used in logs.
func (tc *TransactionContext) ID() string {
	return tc.id
}

// IsActive reports whether the transaction is still open.
func (tc *TransactionContext) IsActive() bool {
	return tc.tx != nil
}

// Duration returns how long the transaction has been open.
func (tc *TransactionContext) Duration() time.Duration {
	return time.Since(tc.started)
}

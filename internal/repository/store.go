package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"safebank/internal/domain"
	"safebank/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	db       DB
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db DB, logger *slog.Logger) *Store {
	return &Store{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// Accounts returns an AccountRepository using the current executor
func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError(s.logger, "ping database", err)
	}
	return nil
}

// WithTransaction executes fn within a database transaction. A Store that is
// already inside a transaction runs fn in that same transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if _, inTx := s.executor.(*sql.Tx); inTx {
		return fn(s)
	}
	if s.db == nil {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(s.logger, "begin transaction", err)
	}

	txStore := &Store{
		db:       s.db,
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError(s.logger, "commit transaction", err)
	}
	return nil
}

// storeError classifies a database failure as store_unavailable, keeping the
// driver message in the details.
func storeError(logger *slog.Logger, op string, err error) error {
	logger.Error("Store operation failed", "operation", op, "error", err)
	return errors.ErrStoreUnavailable.WithDetails(fmt.Sprintf("%s: %v", op, err))
}

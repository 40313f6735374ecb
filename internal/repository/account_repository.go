package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"safebank/internal/domain"
	"safebank/internal/errors"
)

const accountColumns = `id, account_number, holder_name, balance, version, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) Save(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.ID == uuid.Nil {
		return r.insert(ctx, account)
	}
	return r.update(ctx, account)
}

func (r *accountRepository) insert(ctx context.Context, account domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, account_number, holder_name, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
	`

	account.ID = uuid.New()
	account.Version = 1
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.AccountNumber,
		account.HolderName,
		account.Balance.String(),
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
			return nil, errors.ErrDuplicateAccount
		}
		return nil, storeError(r.logger, "insert account", err)
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created successfully", "account_id", account.ID, "account_number", account.AccountNumber)
	return &account, nil
}

func (r *accountRepository) update(ctx context.Context, account domain.Account) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET account_number = $1, holder_name = $2, balance = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		account.AccountNumber,
		account.HolderName,
		account.Balance.String(),
		now,
		account.ID,
		account.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("Duplicate account number on update", "account_id", account.ID, "account_number", account.AccountNumber)
			return nil, errors.ErrDuplicateAccount
		}
		return nil, storeError(r.logger, "update account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, storeError(r.logger, "update account rows affected", err)
	}

	if rowsAffected == 0 {
		// Either the row is gone or another writer bumped the version.
		if _, err := r.FindByID(ctx, account.ID); err != nil {
			return nil, err
		}
		r.logger.Warn("Stale account version", "account_id", account.ID, "version", account.Version)
		return nil, errors.ErrConcurrentModification
	}

	account.Version++
	account.UpdatedAt = now
	r.logger.Info("Account updated", "account_id", account.ID, "version", account.Version, "balance", account.Balance)
	return &account, nil
}

func (r *accountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) FindByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := r.scanAccount(ctx, query, number)
	if stderrors.Is(err, errors.ErrAccountNotFound) {
		return nil, nil
	}
	return account, err
}

func (r *accountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return storeError(r.logger, "delete account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeError(r.logger, "delete account rows affected", err)
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to delete", "account_id", id)
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account deleted", "account_id", id)
	return nil
}

func (r *accountRepository) FindAll(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeError(r.logger, "list accounts", err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0)
	for rows.Next() {
		account, err := scanRow(rows)
		if err != nil {
			return nil, storeError(r.logger, "scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(r.logger, "iterate accounts", err)
	}

	return accounts, nil
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	account, err := scanRow(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Account not found", "lookup", arg)
			return nil, errors.ErrAccountNotFound
		}
		return nil, storeError(r.logger, "get account", err)
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.HolderName,
		&balanceStr,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, err
	}

	account.Balance = balance
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

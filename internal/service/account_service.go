package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"safebank/internal/domain"
	"safebank/internal/errors"
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultMaxRetries   = 5
)

// AccountCache is an optional read-through cache for single-account reads.
type AccountCache interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, bool)
	// Set stores account only when it is newer than the cached version and
	// the id carries no deletion marker.
	Set(ctx context.Context, account *domain.Account)
	// Delete replaces the entry with a deletion marker that blocks later Sets.
	Delete(ctx context.Context, id uuid.UUID)
}

type Option func(*AccountService)

func WithCache(cache AccountCache) Option {
	return func(s *AccountService) { s.cache = cache }
}

// WithStoreTimeout bounds every store round trip, including a whole
// read-modify-write transaction.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *AccountService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithMaxRetries bounds how often a mutation is retried after losing an
// optimistic version check.
func WithMaxRetries(n int) Option {
	return func(s *AccountService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// AccountService is the only component allowed to change stored accounts.
// Mutations on one account are serialized by the store's row lock, with a
// version check and bounded retry behind it.
type AccountService struct {
	store        domain.Store
	cache        AccountCache
	loads        singleflight.Group
	commits      atomic.Uint64
	storeTimeout time.Duration
	maxRetries   int
	logger       *slog.Logger
}

func NewAccountService(store domain.Store, logger *slog.Logger, opts ...Option) *AccountService {
	s := &AccountService{
		store:        store,
		storeTimeout: DefaultStoreTimeout,
		maxRetries:   DefaultMaxRetries,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AccountService) CreateAccount(ctx context.Context, in domain.AccountInput) (*domain.Account, error) {
	s.logger.Info("Creating account", "account_number", in.AccountNumber)

	if violations := domain.ValidateInput(in); len(violations) > 0 {
		return nil, errors.NewValidationError(violations)
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var created *domain.Account
	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		existing, err := tx.Accounts().FindByAccountNumber(ctx, in.AccountNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.ErrDuplicateAccount
		}

		created, err = tx.Accounts().Save(ctx, domain.Account{}.Apply(in).Normalized())
		return err
	})
	if err != nil {
		return nil, s.fail("create account", uuid.Nil, err)
	}

	s.logger.Info("Account created successfully", "account_id", created.ID)
	return created, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if account, ok := s.cache.Get(ctx, id); ok {
			return account, nil
		}
	}

	// Concurrent misses for the same id share one store read. The shared
	// read keeps its own deadline so one caller going away does not fail the rest.
	// Keying on the commit count keeps a read that starts after a commit from
	// joining a load that started before it.
	key := id.String() + "/" + strconv.FormatUint(s.commits.Load(), 10)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		loadCtx, cancel := s.storeContext(context.WithoutCancel(ctx))
		defer cancel()

		account, err := s.store.Accounts().FindByID(loadCtx, id)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(loadCtx, account)
		}
		return account, nil
	})
	if err != nil {
		return nil, s.fail("get account", id, err)
	}

	account := *v.(*domain.Account)
	return &account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	accounts, err := s.store.Accounts().FindAll(ctx)
	if err != nil {
		return nil, s.fail("list accounts", uuid.Nil, err)
	}
	return accounts, nil
}

// UpdateAccount replaces the account number, holder name and balance of an
// existing account. The id is never changed.
func (s *AccountService) UpdateAccount(ctx context.Context, accountID string, in domain.AccountInput) (*domain.Account, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Updating account", "account_id", id)
	return s.mutate(ctx, "update account", id, func(current domain.Account) (domain.Account, error) {
		if violations := domain.ValidateInput(in); len(violations) > 0 {
			return current, errors.NewValidationError(violations)
		}
		return current.Apply(in), nil
	})
}

func (s *AccountService) DeleteAccount(ctx context.Context, accountID string) error {
	id, err := parseAccountID(accountID)
	if err != nil {
		return err
	}

	s.logger.Info("Deleting account", "account_id", id)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	err = s.store.WithTransaction(storeCtx, func(tx domain.Store) error {
		if _, err := tx.Accounts().FindByIDForUpdate(storeCtx, id); err != nil {
			return err
		}
		return tx.Accounts().Delete(storeCtx, id)
	})
	if err != nil {
		return s.fail("delete account", id, err)
	}

	s.commits.Add(1)
	if s.cache != nil {
		s.cache.Delete(context.WithoutCancel(ctx), id)
	}
	return nil
}

func (s *AccountService) Deposit(ctx context.Context, accountID string, amount *decimal.Decimal) (*domain.Account, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Processing deposit", "account_id", id, "amount", amount)
	return s.mutate(ctx, "deposit", id, func(current domain.Account) (domain.Account, error) {
		return current.WithBalance(current.Balance.Add(*amount)), nil
	})
}

func (s *AccountService) Withdraw(ctx context.Context, accountID string, amount *decimal.Decimal) (*domain.Account, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Processing withdrawal", "account_id", id, "amount", amount)
	return s.mutate(ctx, "withdraw", id, func(current domain.Account) (domain.Account, error) {
		if current.Balance.LessThan(*amount) {
			return current, errors.ErrInsufficientFunds.WithDetails(
				fmt.Sprintf("balance %s is less than %s", current.Balance.StringFixed(2), amount.String()))
		}
		return current.WithBalance(current.Balance.Sub(*amount)), nil
	})
}

// mutate runs one read-validate-write cycle under the account's row lock,
// retrying with backoff when the version check loses a race.
func (s *AccountService) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	change func(domain.Account) (domain.Account, error),
) (*domain.Account, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(s.maxRetries)), ctx)

	updated, err := backoff.RetryWithData(func() (*domain.Account, error) {
		account, err := s.mutateOnce(ctx, id, change)
		if err != nil && !stderrors.Is(err, errors.ErrConcurrentModification) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn("Version conflict, retrying", "operation", op, "account_id", id)
		}
		return account, err
	}, policy)
	if err != nil {
		if stderrors.Is(err, errors.ErrConcurrentModification) {
			err = errors.ErrStoreUnavailable.WithDetails("account kept changing concurrently")
		}
		return nil, s.fail(op, id, err)
	}

	s.commits.Add(1)
	s.refresh(ctx, updated)
	s.logger.Info("Account mutation committed", "operation", op, "account_id", id, "version", updated.Version)
	return updated, nil
}

func (s *AccountService) mutateOnce(
	ctx context.Context,
	id uuid.UUID,
	change func(domain.Account) (domain.Account, error),
) (*domain.Account, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var updated *domain.Account
	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		current, err := tx.Accounts().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		next, err := change(*current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.Version = current.Version

		if violations := next.Validate(); len(violations) > 0 {
			return errors.NewValidationError(violations)
		}
		next = next.Normalized()

		if next.AccountNumber != current.AccountNumber {
			owner, err := tx.Accounts().FindByAccountNumber(ctx, next.AccountNumber)
			if err != nil {
				return err
			}
			if owner != nil && owner.ID != id {
				return errors.ErrDuplicateAccount
			}
		}

		updated, err = tx.Accounts().Save(ctx, next)
		return err
	})
	return updated, err
}

func (s *AccountService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// refresh stores a committed record. Its version is newer than anything a
// concurrent read loaded before the commit, so a late fill cannot replace it.
func (s *AccountService) refresh(ctx context.Context, account *domain.Account) {
	if s.cache == nil {
		return
	}
	s.cache.Set(context.WithoutCancel(ctx), account)
}

func (s *AccountService) fail(op string, id uuid.UUID, err error) error {
	appErr := errors.From(err)
	if appErr.HTTPStatus() >= http.StatusInternalServerError {
		s.logger.Error("Account operation failed", "operation", op, "account_id", id, "code", appErr.Code, "error", err)
	} else {
		s.logger.Warn("Account operation rejected", "operation", op, "account_id", id, "code", appErr.Code)
	}
	return appErr
}

// checkAmount runs before any arithmetic, so an amount of extreme scale
// never reaches the balance while its row is locked.
func checkAmount(amount *decimal.Decimal) error {
	if amount == nil || !domain.InMoneyRange(*amount) || !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	return nil
}

// parseAccountID reports a malformed id as not found, since no stored
// account can carry it.
func parseAccountID(accountID string) (uuid.UUID, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return uuid.Nil, errors.ErrAccountNotFound.WithDetails("malformed account id")
	}
	return id, nil
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"safebank/internal/domain"
	"safebank/internal/errors"
)

// MemoryStore keeps accounts in process memory. Inside a transaction,
// FindByIDForUpdate takes an exclusive per-account lock and writes are
// buffered until commit, where versions and account number uniqueness are
// checked once more under the state lock.
type MemoryStore struct {
	state  *memoryState
	tx     *memoryTx
	logger *slog.Logger
}

type memoryState struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]domain.Account

	locksMu sync.Mutex
	locks   map[uuid.UUID]*semaphore.Weighted
}

type memoryTx struct {
	held    map[uuid.UUID]*semaphore.Weighted
	pending map[uuid.UUID]change
}

// change is a buffered write. A nil account deletes; base is the version the
// writer read, zero for inserts.
type change struct {
	account *domain.Account
	base    int64
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			accounts: make(map[uuid.UUID]domain.Account),
			locks:    make(map[uuid.UUID]*semaphore.Weighted),
		},
		logger: logger,
	}
}

func (s *MemoryStore) Accounts() domain.AccountRepository {
	return &memoryAccountRepository{store: s}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return errors.From(err)
	}

	tx := &memoryTx{
		held:    make(map[uuid.UUID]*semaphore.Weighted),
		pending: make(map[uuid.UUID]change),
	}
	defer tx.release()

	if err := fn(&MemoryStore{state: s.state, tx: tx, logger: s.logger}); err != nil {
		return err
	}

	return s.state.apply(tx.pending)
}

func (tx *memoryTx) release() {
	for id, sem := range tx.held {
		sem.Release(1)
		delete(tx.held, id)
	}
}

func (st *memoryState) lockFor(id uuid.UUID) *semaphore.Weighted {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()

	sem, ok := st.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		st.locks[id] = sem
	}
	return sem
}

// forgetLock drops the lock of an account that no longer exists, if it is
// still sem (any lock when sem is nil). Holders and waiters keep their
// reference and only ever find the account missing.
func (st *memoryState) forgetLock(id uuid.UUID, sem *semaphore.Weighted) {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()
	if sem == nil || st.locks[id] == sem {
		delete(st.locks, id)
	}
}


// apply commits a batch of changes atomically.
func (st *memoryState) apply(changes map[uuid.UUID]change) error {
	if len(changes) == 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for id, c := range changes {
		current, exists := st.accounts[id]
		switch {
		case c.base == 0 && exists:
			return errors.ErrDuplicateAccount.WithDetails("account id already exists")
		case c.base != 0 && !exists:
			return errors.ErrAccountNotFound
		case c.base != 0 && current.Version != c.base:
			return errors.ErrConcurrentModification
		}
	}

	lookup := func(id uuid.UUID) (domain.Account, bool) {
		if c, ok := changes[id]; ok {
			if c.account == nil {
				return domain.Account{}, false
			}
			return *c.account, true
		}
		acc, ok := st.accounts[id]
		return acc, ok
	}

	for id, c := range changes {
		if c.account == nil {
			continue
		}
		for otherID := range st.accounts {
			if other, ok := lookup(otherID); ok && otherID != id && other.AccountNumber == c.account.AccountNumber {
				return errors.ErrDuplicateAccount
			}
		}
		for otherID, oc := range changes {
			if otherID != id && oc.account != nil && oc.account.AccountNumber == c.account.AccountNumber {
				return errors.ErrDuplicateAccount
			}
		}
	}

	for id, c := range changes {
		if c.account == nil {
			delete(st.accounts, id)
			st.forgetLock(id, nil)
			continue
		}
		st.accounts[id] = *c.account
	}
	return nil
}

type memoryAccountRepository struct {
	store *MemoryStore
}

// lookup reads through the transaction's buffered writes to committed state.
func (r *memoryAccountRepository) lookup(id uuid.UUID) (domain.Account, bool) {
	if tx := r.store.tx; tx != nil {
		if c, ok := tx.pending[id]; ok {
			if c.account == nil {
				return domain.Account{}, false
			}
			return *c.account, true
		}
	}

	st := r.store.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	acc, ok := st.accounts[id]
	return acc, ok
}

func (r *memoryAccountRepository) snapshot() []domain.Account {
	st := r.store.state
	st.mu.RLock()
	merged := make(map[uuid.UUID]domain.Account, len(st.accounts))
	for id, acc := range st.accounts {
		merged[id] = acc
	}
	st.mu.RUnlock()

	if tx := r.store.tx; tx != nil {
		for id, c := range tx.pending {
			if c.account == nil {
				delete(merged, id)
				continue
			}
			merged[id] = *c.account
		}
	}

	out := make([]domain.Account, 0, len(merged))
	for _, acc := range merged {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *memoryAccountRepository) write(id uuid.UUID, c change) error {
	if tx := r.store.tx; tx != nil {
		if prev, ok := tx.pending[id]; ok {
			c.base = prev.base
		}
		tx.pending[id] = c
		return nil
	}
	return r.store.state.apply(map[uuid.UUID]change{id: c})
}

func (r *memoryAccountRepository) Save(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.From(err)
	}

	now := time.Now().UTC()
	var base int64

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
		account.Version = 1
		account.CreatedAt = now
	} else {
		current, ok := r.lookup(account.ID)
		if !ok {
			return nil, errors.ErrAccountNotFound
		}
		if current.Version != account.Version {
			return nil, errors.ErrConcurrentModification
		}
		base = account.Version
		account.Version++
		account.CreatedAt = current.CreatedAt
	}
	account.UpdatedAt = now

	if existing, err := r.FindByAccountNumber(ctx, account.AccountNumber); err != nil {
		return nil, err
	} else if existing != nil && existing.ID != account.ID {
		r.store.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
		return nil, errors.ErrDuplicateAccount
	}

	stored := account
	if err := r.write(account.ID, change{account: &stored, base: base}); err != nil {
		return nil, err
	}

	r.store.logger.Info("Account saved", "account_id", account.ID, "version", account.Version)
	return &account, nil
}

func (r *memoryAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.From(err)
	}

	acc, ok := r.lookup(id)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &acc, nil
}

func (r *memoryAccountRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	tx := r.store.tx
	if tx == nil {
		return r.FindByID(ctx, id)
	}

	sem, held := tx.held[id]
	if !held {
		sem = r.store.state.lockFor(id)
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, errors.ErrStoreUnavailable.WithDetails(fmt.Sprintf("acquire account lock: %v", err))
		}
		tx.held[id] = sem
	}

	account, err := r.FindByID(ctx, id)
	if stderrors.Is(err, errors.ErrAccountNotFound) && !held {
		if _, pending := tx.pending[id]; !pending {
			delete(tx.held, id)
			sem.Release(1)
			r.store.state.forgetLock(id, sem)
		}
	}
	return account, err
}

func (r *memoryAccountRepository) FindByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.From(err)
	}

	for _, acc := range r.snapshot() {
		if acc.AccountNumber == number {
			return &acc, nil
		}
	}
	return nil, nil
}

func (r *memoryAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return errors.From(err)
	}

	current, ok := r.lookup(id)
	if !ok {
		return errors.ErrAccountNotFound
	}

	if err := r.write(id, change{base: current.Version}); err != nil {
		return err
	}

	r.store.logger.Info("Account deleted", "account_id", id)
	return nil
}

func (r *memoryAccountRepository) FindAll(ctx context.Context) ([]*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.From(err)
	}

	snap := r.snapshot()
	out := make([]*domain.Account, 0, len(snap))
	for i := range snap {
		out = append(out, &snap[i])
	}
	return out, nil
}

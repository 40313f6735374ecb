package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is an immutable snapshot of a stored account row. Mutations produce
// a new value and go back through validation before they are saved.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	HolderName    string          `json:"holderName"`
	Balance       decimal.Decimal `json:"balance"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AccountInput holds candidate field values for create and update.
// A nil Balance means the client did not send one.
type AccountInput struct {
	AccountNumber string           `json:"accountNumber" validate:"required,notblank,accountnumber"`
	HolderName    string           `json:"holderName" validate:"required,notblank,min=2,max=50"`
	Balance       *decimal.Decimal `json:"balance" validate:"required,money"`
}

// Input returns the account's current field values as a candidate.
func (a Account) Input() AccountInput {
	balance := a.Balance
	return AccountInput{
		AccountNumber: a.AccountNumber,
		HolderName:    a.HolderName,
		Balance:       &balance,
	}
}

// Apply copies the candidate's updatable fields onto a copy of a. ID,
// version and timestamps are left alone, and so is the balance when the
// candidate carries none. Validate the candidate first.
func (a Account) Apply(in AccountInput) Account {
	a.AccountNumber = in.AccountNumber
	a.HolderName = in.HolderName
	if in.Balance != nil {
		a.Balance = *in.Balance
	}
	return a
}

// Normalized returns a with its balance at cent scale, matching what the
// store keeps. Only call it on a record that passed Validate.
func (a Account) Normalized() Account {
	a.Balance = a.Balance.Round(MaxFractionDigits)
	return a
}

func (a Account) WithBalance(balance decimal.Decimal) Account {
	a.Balance = balance
	return a
}

// AccountRepository is keyed storage for accounts.
type AccountRepository interface {
	// Save inserts when account.ID is uuid.Nil and otherwise updates the row
	// whose id and version match, returning the stored value.
	Save(ctx context.Context, account Account) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByAccountNumber returns nil, nil when no account has the number.
	FindByAccountNumber(ctx context.Context, number string) (*Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
	FindAll(ctx context.Context) ([]*Account, error)
}

// Store is the unit of work the ledger runs against.
type Store interface {
	Accounts() AccountRepository
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

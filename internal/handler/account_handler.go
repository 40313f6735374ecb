package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"safebank/internal/domain"
)

// AccountLedger is the ledger surface the handlers call into.
type AccountLedger interface {
	CreateAccount(ctx context.Context, in domain.AccountInput) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	UpdateAccount(ctx context.Context, accountID string, in domain.AccountInput) (*domain.Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
	Deposit(ctx context.Context, accountID string, amount *decimal.Decimal) (*domain.Account, error)
	Withdraw(ctx context.Context, accountID string, amount *decimal.Decimal) (*domain.Account, error)
}

type AccountHandler struct {
	ledger AccountLedger
}

func NewAccountHandler(ledger AccountLedger) *AccountHandler {
	return &AccountHandler{
		ledger: ledger,
	}
}

// AccountRequest is the body of create and update. Balance accepts a JSON
// number or a numeric string.
type AccountRequest struct {
	AccountNumber string           `json:"accountNumber"`
	HolderName    string           `json:"holderName"`
	Balance       *decimal.Decimal `json:"balance"`
}

type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type AccountResponse struct {
	ID            string    `json:"id"`
	AccountNumber string    `json:"accountNumber"`
	HolderName    string    `json:"holderName"`
	Balance       string    `json:"balance"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (req AccountRequest) input() domain.AccountInput {
	return domain.AccountInput{
		AccountNumber: req.AccountNumber,
		HolderName:    req.HolderName,
		Balance:       req.Balance,
	}
}

func toResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		ID:            account.ID.String(),
		AccountNumber: account.AccountNumber,
		HolderName:    account.HolderName,
		Balance:       account.Balance.StringFixed(domain.MaxFractionDigits),
		Version:       account.Version,
		CreatedAt:     account.CreatedAt,
		UpdatedAt:     account.UpdatedAt,
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(account))
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, toResponse(account))
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(account))
}

func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.ledger.UpdateAccount(r.Context(), mux.Vars(r)["id"], req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(account))
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteAccount(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.ledger.Deposit(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(account))
}

func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.ledger.Withdraw(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(account))
}

// RegisterRoutes mounts the account endpoints under /api/accounts.
func (h *AccountHandler) RegisterRoutes(router *mux.Router) {
	accounts := router.PathPrefix("/api/accounts").Subrouter()
	accounts.HandleFunc("", h.CreateAccount).Methods(http.MethodPost)
	accounts.HandleFunc("", h.ListAccounts).Methods(http.MethodGet)
	accounts.HandleFunc("/{id}", h.GetAccount).Methods(http.MethodGet)
	accounts.HandleFunc("/{id}", h.UpdateAccount).Methods(http.MethodPut)
	accounts.HandleFunc("/{id}", h.DeleteAccount).Methods(http.MethodDelete)
	accounts.HandleFunc("/{id}/deposit", h.Deposit).Methods(http.MethodPost)
	accounts.HandleFunc("/{id}/withdraw", h.Withdraw).Methods(http.MethodPost)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safebank/internal/domain"
	"safebank/internal/errors"
	"safebank/internal/repository"
	"safebank/internal/service"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *Error          `json:"error"`
}

func newTestRouter() *mux.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewAccountService(repository.NewMemoryStore(logger), logger)

	router := mux.NewRouter()
	NewAccountHandler(svc).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeAccount(t *testing.T, env envelope) AccountResponse {
	t.Helper()
	var acc AccountResponse
	require.NoError(t, json.Unmarshal(env.Data, &acc))
	return acc
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter()

	rec, env := do(t, router, http.MethodPost, "/api/accounts",
		`{"accountNumber":"ACC1001","holderName":"Anthony Stark","balance":500.00}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAccount(t, env)
	assert.Equal(t, "500.00", created.Balance)
	assert.Equal(t, "ACC1001", created.AccountNumber)
	base := "/api/accounts/" + created.ID

	rec, env = do(t, router, http.MethodPost, base+"/deposit", `{"amount":"250.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "750.00", decodeAccount(t, env).Balance)

	rec, env = do(t, router, http.MethodPost, base+"/withdraw", `{"amount":1000.00}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(errors.InsufficientFunds), env.Error.Code)

	rec, env = do(t, router, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "750.00", decodeAccount(t, env).Balance)

	rec, env = do(t, router, http.MethodPost, base+"/withdraw", `{"amount":750.00}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", decodeAccount(t, env).Balance)

	rec, _ = do(t, router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = do(t, router, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.AccountNotFound), env.Error.Code)

	rec, _ = do(t, router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAccountValidationListsViolations(t *testing.T) {
	router := newTestRouter()

	rec, env := do(t, router, http.MethodPost, "/api/accounts",
		`{"accountNumber":"ACC1","holderName":"A","balance":"500.333"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(errors.ValidationFailed), env.Error.Code)

	fields := make([]string, 0, len(env.Error.Violations))
	for _, v := range env.Error.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"accountNumber", "holderName", "balance"}, fields)
}

func TestCreateAccountDuplicateIsConflict(t *testing.T) {
	router := newTestRouter()
	body := `{"accountNumber":"ACC1001","holderName":"Anthony Stark","balance":1}`

	rec, _ := do(t, router, http.MethodPost, "/api/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, router, http.MethodPost, "/api/accounts", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errors.DuplicateAccount), env.Error.Code)

	rec, env = do(t, router, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AccountResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	router := newTestRouter()

	rec, env := do(t, router, http.MethodPost, "/api/accounts", `{"accountNumber":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.InvalidInput), env.Error.Code)

	rec, env = do(t, router, http.MethodPost, "/api/accounts/"+uuid.NewString()+"/deposit", `{"amount":"ten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.InvalidInput), env.Error.Code)
}

func TestAmountErrors(t *testing.T) {
	router := newTestRouter()

	rec, env := do(t, router, http.MethodPost, "/api/accounts",
		`{"accountNumber":"ACC1001","holderName":"Anthony Stark","balance":"9999999.50"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	base := "/api/accounts/" + decodeAccount(t, env).ID

	for _, body := range []string{`{}`, `{"amount":0}`, `{"amount":"-5"}`, `{"amount":null}`, `{"amount":"1e-20000000"}`, `{"amount":1e-20000000}`} {
		rec, env = do(t, router, http.MethodPost, base+"/deposit", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, string(errors.InvalidAmount), env.Error.Code, body)

		rec, env = do(t, router, http.MethodPost, base+"/withdraw", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, string(errors.InvalidAmount), env.Error.Code, body)
	}

	rec, env = do(t, router, http.MethodPost, base+"/deposit", `{"amount":"0.51"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.ValidationFailed), env.Error.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/accounts/"+uuid.NewString()+"/withdraw", `{"amount":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAccountOverHTTP(t *testing.T) {
	router := newTestRouter()

	rec, env := do(t, router, http.MethodPost, "/api/accounts",
		`{"accountNumber":"ACC1001","holderName":"Anthony Stark","balance":"500.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeAccount(t, env)
	base := "/api/accounts/" + created.ID

	rec, env = do(t, router, http.MethodPut, base,
		`{"accountNumber":"ACC1001","holderName":"Iron Man","balance":"1000.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeAccount(t, env)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Iron Man", updated.HolderName)
	assert.Equal(t, "1000.00", updated.Balance)

	rec, env = do(t, router, http.MethodPut, base, `{"accountNumber":"ACC1001","holderName":"Iron Man"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.ValidationFailed), env.Error.Code)

	rec, _ = do(t, router, http.MethodPut, "/api/accounts/"+uuid.NewString(),
		`{"accountNumber":"ACC1001","holderName":"Iron Man","balance":"1.00"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type unavailableLedger struct {
	AccountLedger
}

func (unavailableLedger) ListAccounts(context.Context) ([]*domain.Account, error) {
	return nil, errors.ErrStoreUnavailable.WithDetails("dial tcp: connection refused")
}

func (unavailableLedger) Deposit(context.Context, string, *decimal.Decimal) (*domain.Account, error) {
	return nil, context.DeadlineExceeded
}

func TestStoreUnavailableIsRetryable(t *testing.T) {
	router := mux.NewRouter()
	NewAccountHandler(unavailableLedger{}).RegisterRoutes(router)

	rec, env := do(t, router, http.MethodGet, "/api/accounts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, string(errors.StoreUnavailable), env.Error.Code)

	rec, env = do(t, router, http.MethodPost, "/api/accounts/"+uuid.NewString()+"/deposit", `{"amount":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(errors.StoreUnavailable), env.Error.Code)
}

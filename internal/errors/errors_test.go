package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ValidationFailed:       http.StatusBadRequest,
		InvalidInput:           http.StatusBadRequest,
		InvalidAmount:          http.StatusBadRequest,
		AccountNotFound:        http.StatusNotFound,
		DuplicateAccount:       http.StatusConflict,
		InsufficientFunds:      http.StatusConflict,
		ConcurrentModification: http.StatusConflict,
		StoreUnavailable:       http.StatusServiceUnavailable,
		InternalError:          http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, NewAppError(code, "x").HTTPStatus(), string(code))
	}
}

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	detailed := ErrAccountNotFound.WithDetails("id=42")

	assert.Equal(t, "id=42", detailed.Details)
	assert.Empty(t, ErrAccountNotFound.Details)
	assert.True(t, stderrors.Is(detailed, ErrAccountNotFound))
}

func TestIsMatchesWrappedByCode(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", ErrInsufficientFunds.WithDetails("balance 1.00"))

	assert.True(t, stderrors.Is(wrapped, ErrInsufficientFunds))
	assert.False(t, stderrors.Is(wrapped, ErrAccountNotFound))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	appErr := From(fmt.Errorf("wrap: %w", ErrDuplicateAccount))
	assert.Equal(t, DuplicateAccount, appErr.Code)

	timeout := From(context.DeadlineExceeded)
	assert.Equal(t, StoreUnavailable, timeout.Code)
	assert.True(t, timeout.Retryable())

	cancelled := From(fmt.Errorf("query: %w", context.Canceled))
	assert.Equal(t, StoreUnavailable, cancelled.Code)

	unknown := From(stderrors.New("boom"))
	assert.Equal(t, InternalError, unknown.Code)
	assert.Equal(t, "boom", unknown.Details)
	assert.False(t, unknown.Retryable())
}

func TestValidationErrorCarriesAllViolations(t *testing.T) {
	err := NewValidationError([]FieldViolation{
		{Field: "accountNumber", Message: "bad"},
		{Field: "holderName", Message: "bad"},
	})

	assert.Len(t, err.Violations, 2)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.True(t, stderrors.Is(err, NewAppError(ValidationFailed, "")))
}

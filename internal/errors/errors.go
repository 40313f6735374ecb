package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationFailed       ErrorCode = "validation_failed"
	InvalidInput           ErrorCode = "invalid_input"
	InvalidAmount          ErrorCode = "invalid_amount"
	AccountNotFound        ErrorCode = "account_not_found"
	DuplicateAccount       ErrorCode = "duplicate_account"
	InsufficientFunds      ErrorCode = "insufficient_funds"
	ConcurrentModification ErrorCode = "concurrent_modification"
	StoreUnavailable       ErrorCode = "store_unavailable"
	InternalError          ErrorCode = "internal_error"
)

// FieldViolation names one field that broke an account invariant.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type AppError struct {
	Code       ErrorCode        `json:"code"`
	Message    string           `json:"message"`
	Details    string           `json:"details,omitempty"`
	Violations []FieldViolation `json:"violations,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so copies produced by
// WithDetails still satisfy errors.Is against the predefined values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewValidationError reports every violation at once.
func NewValidationError(violations []FieldViolation) *AppError {
	return &AppError{
		Code:       ValidationFailed,
		Message:    "account validation failed",
		Violations: violations,
	}
}

// WithDetails returns a copy of e with details attached.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Retryable reports whether the caller may repeat the request unchanged.
func (e *AppError) Retryable() bool {
	return e.Code == StoreUnavailable
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationFailed, InvalidInput, InvalidAmount:
		return http.StatusBadRequest
	case AccountNotFound:
		return http.StatusNotFound
	case DuplicateAccount, InsufficientFunds, ConcurrentModification:
		return http.StatusConflict
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From converts err into an AppError. Context expiry and cancellation are
// reported as store_unavailable; anything unrecognised is internal_error.
func From(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrStoreUnavailable.WithDetails("store call timed out")
	}
	if stderrors.Is(err, context.Canceled) {
		return ErrStoreUnavailable.WithDetails("request cancelled before the store call completed")
	}

	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

// Predefined errors for common cases
var (
	ErrAccountNotFound        = NewAppError(AccountNotFound, "account not found")
	ErrDuplicateAccount       = NewAppError(DuplicateAccount, "account number already in use")
	ErrInvalidAmount          = NewAppError(InvalidAmount, "amount must be present and greater than zero")
	ErrInsufficientFunds      = NewAppError(InsufficientFunds, "insufficient funds")
	ErrConcurrentModification = NewAppError(ConcurrentModification, "account was modified concurrently")
	ErrStoreUnavailable       = NewAppError(StoreUnavailable, "account store unavailable, retry later")
	ErrCannotBeginTransaction = NewAppError(InternalError, "store cannot begin a transaction")
)

package handler

import (
	"encoding/json"
	"net/http"

	"safebank/internal/errors"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code       string                  `json:"code"`
	Message    string                  `json:"message"`
	Details    string                  `json:"details,omitempty"`
	Violations []errors.FieldViolation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.From(err)
	w.Header().Set("Content-Type", "application/json")
	if appErr.Retryable() {
		w.Header().Set("Retry-After", "1")
	}

	errResponse := Error{
		Code:       string(appErr.Code),
		Message:    appErr.Message,
		Details:    appErr.Details,
		Violations: appErr.Violations,
	}

	w.WriteHeader(appErr.HTTPStatus())
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	return nil
}

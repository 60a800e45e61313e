// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps platform errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemWithCode(w, http.StatusNotFound, "Not Found", err.Error(), "NOT_FOUND")
	case errors.Is(err, ErrValidation):
		ProblemWithCode(w, http.StatusBadRequest, "Validation Failed", err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, ErrForbidden):
		ProblemWithCode(w, http.StatusForbidden, "Forbidden", err.Error(), "FORBIDDEN")
	case errors.Is(err, ErrUnauthorized):
		ProblemWithCode(w, http.StatusUnauthorized, "Unauthorized", err.Error(), "UNAUTHORIZED")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

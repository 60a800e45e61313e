package cashclose

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode is the stable, client-facing classification of a failure. Messages may change;
// codes must not.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeOpenPeriodExists    ErrorCode = "OPEN_PERIOD_EXISTS"
	CodeCloseEndBeforeStart ErrorCode = "CLOSE_END_BEFORE_PERIOD_START"
	CodeSchemaMismatch      ErrorCode = "DB_SCHEMA_MISMATCH"
	CodeDBError             ErrorCode = "DB_ERROR"
	CodeNotFound            ErrorCode = "NOT_FOUND"
)

// Error is a classified cash-close failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cashclose: %s: %v", e.Message, e.Err)
	}
	return "cashclose: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrValidation matches any VALIDATION_ERROR.
	ErrValidation = &Error{Code: CodeValidation, Message: "invalid request"}
	// ErrOpenPeriodExists matches any OPEN_PERIOD_EXISTS conflict.
	ErrOpenPeriodExists = &Error{Code: CodeOpenPeriodExists, Message: "open period conflict"}
	// ErrCloseEndBeforeStart matches CLOSE_END_BEFORE_PERIOD_START.
	ErrCloseEndBeforeStart = &Error{Code: CodeCloseEndBeforeStart, Message: "close end precedes period start"}
	// ErrNotFound matches NOT_FOUND.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "period not found"}
)

func validationError(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func conflictError(message string, err error) error {
	return &Error{Code: CodeOpenPeriodExists, Message: message, Err: err}
}

// Postgres SQLSTATE values inspected by the mapper.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUndefinedTable       = "42P01"
	pgUndefinedColumn      = "42703"
	pgUndefinedObject      = "42704"
	pgUndefinedFunction    = "42883"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsSerializationFailure reports whether err is a retryable transaction conflict.
func IsSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// MapError classifies err into an HTTP status, a stable code and a human message.
func MapError(err error) (int, ErrorCode, string) {
	if err == nil {
		return http.StatusOK, "", ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return statusForCode(ce.Code), ce.Code, ce.Message
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, ErrNotFound.Message
	}
	switch pgCode(err) {
	case pgUndefinedTable, pgUndefinedColumn, pgUndefinedObject, pgUndefinedFunction:
		return http.StatusInternalServerError, CodeSchemaMismatch, "database schema is out of date; apply pending migrations"
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return http.StatusConflict, CodeOpenPeriodExists, "another close is in progress; reload the current period"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusInternalServerError, CodeDBError, "database timeout"
	}
	return http.StatusInternalServerError, CodeDBError, "database error"
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeValidation, CodeCloseEndBeforeStart:
		return http.StatusBadRequest
	case CodeOpenPeriodExists:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

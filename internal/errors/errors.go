package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Concrete errors are marked with one of these so callers can
// match with errors.Is regardless of how much context was wrapped around them.
var (
	ErrValidation        = new(ErrCodeValidation, "validation error")
	ErrForbidden         = new(ErrCodeForbidden, "permission denied")
	ErrIllegalTransition = new(ErrCodeIllegalTransition, "illegal status transition")
	ErrConflict          = new(ErrCodeConflict, "concurrent modification")
	ErrNotFound          = new(ErrCodeNotFound, "resource not found")
	ErrAuditWrite        = new(ErrCodeAuditWrite, "audit write failure")
	ErrUnauthorized      = new(ErrCodeUnauthorized, "unauthorized")
	ErrDatabase          = new(ErrCodeDatabase, "database error")
	ErrRateLimited       = new(ErrCodeRateLimited, "rate limited")
	ErrSystem            = new(ErrCodeSystemError, "system error")

	// checked in order, so the more specific kinds come first
	statusCodes = []struct {
		err    error
		status int
	}{
		{ErrAuditWrite, http.StatusInternalServerError},
		{ErrValidation, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrIllegalTransition, http.StatusConflict},
		{ErrConflict, http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrDatabase, http.StatusInternalServerError},
		{ErrSystem, http.StatusInternalServerError},
	}
)

const (
	ErrCodeValidation        = "validation_error"
	ErrCodeForbidden         = "forbidden"
	ErrCodeIllegalTransition = "illegal_transition"
	ErrCodeConflict          = "conflict"
	ErrCodeNotFound          = "not_found"
	ErrCodeAuditWrite        = "audit_write_failure"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeDatabase          = "database_error"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeSystemError       = "system_error"
)

// InternalError represents a domain error kind
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAuditWrite(err error) bool {
	return errors.Is(err, ErrAuditWrite)
}

// Kind returns the code of the first sentinel the error is marked with,
// or the system error code when it carries none.
func Kind(err error) string {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.err.(*InternalError).Code
		}
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}

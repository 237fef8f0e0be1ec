// Package errs defines the error taxonomy shared by console operations and
// the mapping from those errors to HTTP status codes.
package errs

import (
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors. Operations wrap these with context; callers match with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUpstream     = errors.New("upstream request failed")
	ErrStorage      = errors.New("config storage error")
	ErrQuery        = errors.New("statistics query failed")
)

// ValidationError carries every violation found in a payload.
type ValidationError struct {
	Problems []string // Human-readable violations, in check order.
}

// NewValidation builds a ValidationError from one or more problems.
func NewValidation(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(e.Problems, ", ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StatusCoder is implemented by errors that carry their own HTTP status,
// such as relayed backend failures.
type StatusCoder interface {
	HTTPStatus() int
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		if status := coder.HTTPStatus(); status > 0 {
			return status
		}
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for err. Storage and query
// failures are reported generically; their detail belongs in logs.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "invalid or missing api key"
	case errors.Is(err, ErrForbidden):
		return forbiddenMessage(err)
	case errors.Is(err, ErrStorage):
		return "config storage error"
	case errors.Is(err, ErrQuery):
		return "database query failed"
	default:
		return err.Error()
	}
}

func forbiddenMessage(err error) string {
	msg := err.Error()
	if msg == ErrForbidden.Error() {
		return "insufficient permissions"
	}
	return msg
}

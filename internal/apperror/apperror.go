// Package apperror defines the typed error taxonomy shared by the identity
// core. Components return these types; the HTTP boundary maps them to status
// codes with HTTPStatus.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError indicates malformed or missing input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthenticationError indicates bad credentials or an invalid/expired code.
// Messages are deliberately generic.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// AuthorizationError indicates an authenticated caller lacking permission.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NotFoundError indicates a referenced entity is absent.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError indicates an ambiguous tenant, a duplicate linkage or an
// illegal state transition.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// RateLimitError indicates the caller exceeded an issuance or request budget.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// DependencyError indicates a downstream capability (notification delivery)
// failed. Retryable tells the caller whether repeating the request may succeed.
type DependencyError struct {
	Message   string
	Retryable bool
	Err       error
}

func (e *DependencyError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Validation creates a ValidationError with a formatted message.
func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Authentication creates an AuthenticationError with a formatted message.
func Authentication(format string, args ...any) *AuthenticationError {
	return &AuthenticationError{Message: fmt.Sprintf(format, args...)}
}

// Authorization creates an AuthorizationError with a formatted message.
func Authorization(format string, args ...any) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NotFoundError with a formatted message.
func NotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a ConflictError with a formatted message.
func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// RateLimited creates a RateLimitError with a formatted message.
func RateLimited(format string, args ...any) *RateLimitError {
	return &RateLimitError{Message: fmt.Sprintf(format, args...)}
}

// Dependency creates a retryable DependencyError wrapping err.
func Dependency(err error, format string, args ...any) *DependencyError {
	return &DependencyError{Message: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// HTTPStatus maps err to the status code used at the transport boundary.
func HTTPStatus(err error) int {
	var (
		ve  *ValidationError
		ae  *AuthenticationError
		aze *AuthorizationError
		nfe *NotFoundError
		ce  *ConflictError
		rle *RateLimitError
		de  *DependencyError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.As(err, &aze):
		return http.StatusForbidden
	case errors.As(err, &nfe):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &rle):
		return http.StatusTooManyRequests
	case errors.As(err, &de):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable code for err.
func Code(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "dependency_unavailable"
	default:
		return "internal_error"
	}
}

// Message returns the client-facing message of the classified error in
// err's chain, or "" when err is unclassified.
func Message(err error) string {
	var (
		ve  *ValidationError
		ae  *AuthenticationError
		aze *AuthorizationError
		nfe *NotFoundError
		ce  *ConflictError
		rle *RateLimitError
		de  *DependencyError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ae):
		return ae.Message
	case errors.As(err, &aze):
		return aze.Message
	case errors.As(err, &nfe):
		return nfe.Message
	case errors.As(err, &ce):
		return ce.Message
	case errors.As(err, &rle):
		return rle.Message
	case errors.As(err, &de):
		return de.Message
	default:
		return ""
	}
}

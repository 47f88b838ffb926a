// Package errors defines the typed error taxonomy shared by the engine,
// the registry clients, and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind identifies the category of error
type Kind string

const (
	// KindValidation indicates caller input outside documented bounds
	KindValidation Kind = "validation_error"

	// KindParse indicates dosing instructions no stage could interpret
	KindParse Kind = "parse_error"

	// KindDependency indicates an upstream registry unavailable after retries
	KindDependency Kind = "dependency_failure"

	// KindRateLimit indicates a local upstream quota guard tripped
	KindRateLimit Kind = "rate_limit_exceeded"

	// KindInternal indicates a programming or invariant failure
	KindInternal Kind = "internal_error"
)

// Error represents a domain error with an optional retry hint
type Error struct {
	Kind       Kind          `json:"error"`
	Message    string        `json:"message"`
	Cause      error         `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithRetryAfter attaches a suggested retry delay
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// New creates a new error
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a kind and message
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with a kind and formatted message
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Validation creates a validation error
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Validationf creates a formatted validation error
func Validationf(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// Parse creates a parse error
func Parse(message string) *Error {
	return New(KindParse, message)
}

// Dependency creates a dependency failure carrying a retry hint
func Dependency(message string, cause error, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindDependency,
		Message:    message,
		Cause:      cause,
		RetryAfter: retryAfter,
	}
}

// RateLimited creates a rate limit error carrying a retry hint
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// KindOf returns the kind of err, or KindInternal for untyped errors
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// RetryAfterOf extracts the retry hint from err, if any
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if stderrors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

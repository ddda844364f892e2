// Package errs defines the typed error kinds propagated from the store,
// identity, and sync layers up to the HTTP and WebSocket handlers.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for status-code mapping and logging.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	InvalidCredentials Kind = "invalid_credentials"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	QuotaExceeded      Kind = "quota_exceeded"
	Internal           Kind = "internal"
)

// Error wraps a Kind with a human-readable message. Handlers map Kind to an
// HTTP status; the message is safe to return to the caller for every Kind
// except Internal, which callers should render as a generic message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Internal Error that preserves err for logging via Unwrap.
func Wrap(err error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// StatusCode maps a Kind to its HTTP status, per spec.md §7/§6.
func StatusCode(kind Kind) int {
	switch kind {
	case InvalidInput, InvalidCredentials:
		return 400
	case Unauthorized:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case QuotaExceeded:
		return 413
	default:
		return 500
	}
}

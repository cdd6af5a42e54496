// Package errors provides structured error values for the RPC engine.
// Every error carries a JSON-RPC error code, a category for
// classification, and optional structured data, so the dispatch
// boundary can turn any failure into a well-formed error envelope.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies an error by the boundary that should recover it.
type Category string

const (
	// CategoryProtocol covers malformed envelopes and codec failures;
	// recoverable per message.
	CategoryProtocol Category = "protocol"
	// CategoryState covers methods invoked outside the permitted
	// session state; recoverable per call.
	CategoryState Category = "state"
	// CategoryApplication covers unknown names, invalid params and
	// handler failures; recoverable per call.
	CategoryApplication Category = "application"
	// CategoryTransport covers broken or closed streams; terminal for
	// the session.
	CategoryTransport Category = "transport"
	// CategoryTimeout covers client-local deadline expiry; the peer is
	// never informed.
	CategoryTimeout Category = "timeout"
)

// Error is a structured RPC error.
type Error struct {
	code     int
	message  string
	data     any
	category Category
	cause    error
}

// New creates an error with the given code, message and category.
func New(code int, message string, category Category) *Error {
	return &Error{code: code, message: message, category: category}
}

// Newf creates an error with a formatted message.
func Newf(code int, category Category, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...), category: category}
}

// Wrap attaches a cause to a new error.
func Wrap(cause error, code int, message string, category Category) *Error {
	return &Error{code: code, message: message, category: category, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the JSON-RPC error code.
func (e *Error) Code() int { return e.code }

// Message returns the human-readable message without the cause chain.
func (e *Error) Message() string { return e.message }

// Data returns the structured error data, if any.
func (e *Error) Data() any { return e.data }

// Category returns the error category.
func (e *Error) Category() Category { return e.category }

// Unwrap returns the underlying cause for errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.cause }

// WithData returns a copy of the error carrying structured data.
func (e *Error) WithData(data any) *Error {
	clone := *e
	clone.data = data
	return &clone
}

// CategoryOf reports the category of err, or empty when err is not a
// structured error from this package.
func CategoryOf(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.category
	}
	return ""
}

// IsTimeout reports whether err is a client-local deadline expiry.
func IsTimeout(err error) bool { return CategoryOf(err) == CategoryTimeout }

// IsConnectionClosed reports whether err is a terminal transport fault.
func IsConnectionClosed(err error) bool { return CategoryOf(err) == CategoryTransport }

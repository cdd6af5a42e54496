package errors

import (
	"fmt"
	"time"
)

// JSON-RPC 2.0 error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	// Application range.
	CodeHandlerError = -32000
	CodeInvalidState = -32001
)

// Local codes for failures that never leave the process.
const (
	CodeTimeout          = -33000
	CodeConnectionClosed = -33001
)

// ParseFailed reports a syntactically invalid payload.
func ParseFailed(cause error) *Error {
	return Wrap(cause, CodeParseError, "Parse error", CategoryProtocol)
}

// MalformedEnvelope reports syntactically valid JSON with an illegal
// message structure.
func MalformedEnvelope(cause error) *Error {
	return Wrap(cause, CodeInvalidRequest, "Invalid Request", CategoryProtocol)
}

// UnknownMethod reports a request for a method the dispatcher does not
// serve. The failing method name travels in the error data.
func UnknownMethod(method string) *Error {
	return Newf(CodeMethodNotFound, CategoryApplication, "Method not found: %s", method).
		WithData(map[string]any{"method": method})
}

// ToolNotFound reports a tools/call against an unregistered name.
func ToolNotFound(name string) *Error {
	return Newf(CodeMethodNotFound, CategoryApplication, "Tool not found: %s", name).
		WithData(map[string]any{"name": name})
}

// ResourceNotFound reports a resources/read against an unregistered URI.
func ResourceNotFound(uri string) *Error {
	return Newf(CodeMethodNotFound, CategoryApplication, "Resource not found: %s", uri).
		WithData(map[string]any{"uri": uri})
}

// PromptNotFound reports a prompts/get against an unregistered name.
func PromptNotFound(name string) *Error {
	return Newf(CodeMethodNotFound, CategoryApplication, "Prompt not found: %s", name).
		WithData(map[string]any{"name": name})
}

// InvalidParams reports arguments that failed structural validation
// before the handler ran.
func InvalidParams(detail string, cause error) *Error {
	e := Newf(CodeInvalidParams, CategoryApplication, "Invalid params: %s", detail)
	e.cause = cause
	return e
}

// Internal reports an unexpected dispatcher-side failure.
func Internal(cause error) *Error {
	return Wrap(cause, CodeInternal, "Internal error", CategoryInternalOr(cause))
}

// CategoryInternalOr preserves the category of an already-structured
// cause so wrapping does not launder a transport fault into an
// application one.
func CategoryInternalOr(cause error) Category {
	if c := CategoryOf(cause); c != "" {
		return c
	}
	return CategoryApplication
}

// HandlerFailed reports a registered handler that returned an error or
// panicked. The capability name travels in the error data.
func HandlerFailed(name string, cause error) *Error {
	return Wrap(cause, CodeHandlerError, fmt.Sprintf("handler %q failed", name), CategoryApplication).
		WithData(map[string]any{"name": name})
}

// InvalidSessionState reports a method invoked outside the session
// state that permits it.
func InvalidSessionState(method, state string) *Error {
	return Newf(CodeInvalidState, CategoryState, "method %s not allowed in session state %s", method, state).
		WithData(map[string]any{"method": method, "state": state})
}

// Timeout reports a client-local deadline expiry.
func Timeout(method string, after time.Duration) *Error {
	return Newf(CodeTimeout, CategoryTimeout, "request %s timed out after %s", method, after)
}

// ConnectionClosed reports a terminal transport fault.
func ConnectionClosed() *Error {
	return New(CodeConnectionClosed, "connection closed", CategoryTransport)
}

package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal server error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Transport-level rejection codes used in the fixed HTTP error envelope
// before any session-scoped message exchange is possible.
const (
	// ErrorCodeNotAcceptable rejects requests whose Accept header cannot
	// carry both a JSON response and an event stream.
	ErrorCodeNotAcceptable ErrorCode = -32000
	// ErrorCodeSessionNotFound rejects requests naming a session id the
	// registry cannot resolve.
	ErrorCodeSessionNotFound ErrorCode = -32001
	// ErrorCodeUnsupportedVersion rejects requests carrying a protocol
	// version outside the supported set.
	ErrorCodeUnsupportedVersion ErrorCode = -32002
)

// Error is a JSON-RPC error object. It implements the error interface so
// protocol-level failures raised inside tool handlers can travel through
// ordinary error returns and be recognized at the dispatch boundary.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Errorf builds a protocol-level error with a formatted message.
func Errorf(code ErrorCode, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

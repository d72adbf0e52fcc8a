// Package apperr defines the orchestrator's error taxonomy (spec §7).
package apperr

import (
	"errors"
	"fmt"
)

// Category is one of the six error taxonomy buckets from spec.md §7.
type Category string

const (
	CategoryProtocol    Category = "PROTOCOL"
	CategoryRouting     Category = "ROUTING"
	CategoryCorrelation Category = "CORRELATION"
	CategoryTask        Category = "TASK"
	CategoryMCP         Category = "MCP"
	CategoryResource    Category = "RESOURCE"
)

// Code identifies a specific error within its category.
const (
	CodeMalformedJSON       = "MALFORMED_JSON"
	CodeMissingType         = "MISSING_TYPE"
	CodeUnknownType         = "UNKNOWN_TYPE"
	CodeUnsupportedField    = "UNSUPPORTED_FIELD"
	CodePeerNotFound        = "PEER_NOT_FOUND"
	CodePeerOffline         = "PEER_OFFLINE"
	CodeDuplicateName       = "DUPLICATE_NAME"
	CodeTimeout             = "TIMEOUT"
	CodeWaiterCancelled     = "WAITER_CANCELLED"
	CodeServerStopped       = "SERVER_STOPPED"
	CodeUnknownTask         = "UNKNOWN_TASK"
	CodeTerminalTask        = "TERMINAL_TASK"
	CodeMCPNotConnected     = "MCP_NOT_CONNECTED"
	CodeMCPToolNotFound     = "MCP_TOOL_NOT_FOUND"
	CodeMCPToolError        = "MCP_TOOL_ERROR"
	CodeMCPProcessCrashed   = "MCP_PROCESS_CRASHED"
	CodeMCPHandshakeFailed  = "MCP_HANDSHAKE_FAILED"
	CodeConnectionClosed    = "CONNECTION_CLOSED"
)

// AppError is an application-specific error carrying a stable code and
// category so routers can translate it into the wire `error` envelope.
type AppError struct {
	Category Category
	Code     string
	Message  string
	Err      error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func new_(cat Category, code, message string, err error) *AppError {
	return &AppError{Category: cat, Code: code, Message: message, Err: err}
}

func Protocol(code, message string) *AppError { return new_(CategoryProtocol, code, message, nil) }
func Routing(code, message string) *AppError  { return new_(CategoryRouting, code, message, nil) }
func Correlation(code, message string) *AppError {
	return new_(CategoryCorrelation, code, message, nil)
}
func Task(code, message string) *AppError { return new_(CategoryTask, code, message, nil) }
func MCP(code, message string) *AppError  { return new_(CategoryMCP, code, message, nil) }
func Resource(code, message string) *AppError {
	return new_(CategoryResource, code, message, nil)
}

// Wrap preserves an existing AppError's category/code while layering on
// additional context, or wraps a plain error as a resource-category
// CONNECTION_CLOSED error.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Category: appErr.Category,
			Code:     appErr.Code,
			Message:  fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:      err,
		}
	}
	return new_(CategoryResource, CodeConnectionClosed, message, err)
}

// As extracts the AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies infrastructure failures for logging and CLI output.
// Core operations (selector, click, gesture, events) never return these; they
// degrade to false/empty results instead.
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryConnection                      // Automation server or device unreachable
	ErrCategoryHost                            // Host refused or lost the session
	ErrCategoryParse                           // Malformed hierarchy or server response
	ErrCategoryConfig                          // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryHost:
		return "host"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: server_unreachable, invalid_hierarchy, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError carrying the same code, so a copy produced by
// WithCause or WithMessage still satisfies errors.Is against the predefined value.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Connection errors
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}
	ErrServerNotReady = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_not_ready",
		Message:  "automation server is not ready",
	}
	ErrDeviceDisconnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}

	// Host errors
	ErrNoSession = &ExecutionError{
		Category: ErrCategoryHost,
		Code:     "no_session",
		Message:  "no active automation session",
	}
	ErrNoDevice = &ExecutionError{
		Category: ErrCategoryHost,
		Code:     "no_device",
		Message:  "no device attached",
	}
	ErrNoTree = &ExecutionError{
		Category: ErrCategoryHost,
		Code:     "no_tree",
		Message:  "no accessibility tree available",
	}

	// Parse errors
	ErrInvalidHierarchy = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "invalid_hierarchy",
		Message:  "invalid page source",
	}
	ErrInvalidResponse = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "invalid_response",
		Message:  "unexpected server response",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

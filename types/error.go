package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	ErrValidation          ErrorCode = "VALIDATION"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrModelFailure        ErrorCode = "MODEL_FAILURE"
	ErrConsolidationFailed ErrorCode = "CONSOLIDATION_FAILED"
	ErrInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrInternal            ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and an optional
// underlying cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewValidationError creates a non-retryable validation error.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrValidation, Message: message}
}

// NewNotFoundError creates a non-retryable not-found error.
func NewNotFoundError(message string) *Error {
	return &Error{Code: ErrNotFound, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

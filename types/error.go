package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Transport error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Session pool error codes
const (
	ErrPoolExhausted   ErrorCode = "POOL_EXHAUSTED"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
)

// Backend error codes
const (
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrBackendRejected    ErrorCode = "BACKEND_REJECTED"
)

// Batch error codes
const (
	ErrBatchNotFound ErrorCode = "BATCH_NOT_FOUND"
	ErrBatchEnded    ErrorCode = "BATCH_ENDED"
	ErrBatchTooLarge ErrorCode = "BATCH_TOO_LARGE"
)

// ErrCanceled marks cooperative cancellation observed on any path.
const ErrCanceled ErrorCode = "CANCELED"

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error. Raw context
// cancellation and deadline errors map onto the taxonomy so callers see
// uniform codes regardless of where the failure originated.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBackendTimeout
	}
	return ""
}

// IsCanceled reports whether err represents cooperative cancellation.
func IsCanceled(err error) bool {
	return GetErrorCode(err) == ErrCanceled
}

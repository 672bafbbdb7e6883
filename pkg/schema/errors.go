package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeLayoutDegenerate = "LAYOUT_DEGENERATE"
	ErrCodeStaleResult      = "STALE_RESULT"
	ErrCodeExecution        = "EXECUTION_ERROR"
	ErrCodeStore            = "STORE_ERROR"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
)

// TraceError is the structured error type for all tracelens operations.
type TraceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TraceError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TraceError.
func NewError(code, message string) *TraceError {
	return &TraceError{Code: code, Message: message}
}

// NewErrorf creates a new TraceError with a formatted message.
func NewErrorf(code, format string, args ...any) *TraceError {
	return &TraceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *TraceError) WithCause(err error) *TraceError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TraceError) WithDetails(details map[string]any) *TraceError {
	e.Details = details
	return e
}

// IsCode reports whether err (or anything it wraps) is a TraceError with the given code.
func IsCode(err error, code string) bool {
	var te *TraceError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

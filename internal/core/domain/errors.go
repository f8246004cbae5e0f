package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures of the estimation pipeline.
type ErrorCode string

const (
	// ErrCodeData flags insufficient, misaligned, or malformed input series.
	ErrCodeData ErrorCode = "DATA"
	// ErrCodeConvergence flags a numerical optimizer that failed to reach a
	// stable optimum within its iteration budget.
	ErrCodeConvergence ErrorCode = "CONVERGENCE"
	// ErrCodeThreshold flags a threshold choice that yields zero exceedances.
	ErrCodeThreshold ErrorCode = "THRESHOLD"
	// ErrCodeDomain flags violated mathematical preconditions of a formula.
	ErrCodeDomain ErrorCode = "DOMAIN"
	// ErrCodeNumerical flags overflow, NaN, or non-positive variance/scale
	// arising from floating-point degeneracy.
	ErrCodeNumerical ErrorCode = "NUMERICAL"
)

// Error is the structured error type returned by all estimation services.
// It carries the violated precondition as machine-readable constraints so a
// caller can surface the exact failure rather than an opaque numeric error.
type Error struct {
	Code        ErrorCode              `json:"code"`
	Op          string                 `json:"op"`
	Message     string                 `json:"message"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithConstraint records a violated constraint or diagnostic value.
func (e *Error) WithConstraint(key string, value interface{}) *Error {
	if e.Constraints == nil {
		e.Constraints = make(map[string]interface{})
	}
	e.Constraints[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func newError(code ErrorCode, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewDataError creates an error for insufficient or malformed input.
func NewDataError(op, format string, args ...interface{}) *Error {
	return newError(ErrCodeData, op, format, args...)
}

// NewConvergenceError creates an error for an optimizer that exhausted its
// budget. Best-found parameters should be attached via WithConstraint as a
// diagnostic; they must not be used downstream.
func NewConvergenceError(op, format string, args ...interface{}) *Error {
	return newError(ErrCodeConvergence, op, format, args...)
}

// NewThresholdError creates an error for a threshold with no exceedances.
func NewThresholdError(op, format string, args ...interface{}) *Error {
	return newError(ErrCodeThreshold, op, format, args...)
}

// NewDomainError creates an error for violated formula preconditions.
func NewDomainError(op, format string, args ...interface{}) *Error {
	return newError(ErrCodeDomain, op, format, args...)
}

// NewNumericalError creates an error for floating-point degeneracy.
func NewNumericalError(op, format string, args ...interface{}) *Error {
	return newError(ErrCodeNumerical, op, format, args...)
}

// IsCode reports whether err is (or wraps) a domain Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

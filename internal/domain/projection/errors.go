// Package projection defines the canonical failure semantics shared by every
// cache projection maintainer. Handlers never log-and-swallow: they return
// coded errors that the orchestration layer aggregates.
package projection

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes projection failure semantics across maintainers.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeInvariantViolation ErrorCode = "invariant_violation"
	CodeRetryable          ErrorCode = "retryable"
	CodeUnavailable        ErrorCode = "unavailable"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeInternal           ErrorCode = "internal"
)

// Error is the canonical projection error wrapper.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a projection error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates an existing error with projection error semantics.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// IsCode checks whether err (or wrapped err) carries the given projection code.
func IsCode(err error, code ErrorCode) bool {
	var projErr *Error
	if !errors.As(err, &projErr) {
		return false
	}
	return projErr.Code == code
}

// CodeOf extracts the projection error code when available.
func CodeOf(err error) ErrorCode {
	var projErr *Error
	if !errors.As(err, &projErr) {
		return ""
	}
	return projErr.Code
}

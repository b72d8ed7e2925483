// Package domain defines core types, interfaces, and errors for the pipeline core.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., an active run already holds a concurrency key).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds. Cancelled is a node state, never an error kind.
const (
	KindConfigMissing      ErrorKind = "ConfigMissing"
	KindConfigMalformed    ErrorKind = "ConfigMalformed"
	KindConfigTypeMismatch ErrorKind = "ConfigTypeMismatch"
	KindBaseUnresolvable   ErrorKind = "BaseUnresolvable"
	KindGraphCyclic        ErrorKind = "GraphCyclic"
	KindMatrixSourceEmpty  ErrorKind = "MatrixSourceEmpty"
	KindTimeout            ErrorKind = "Timeout"
	KindActionFailed       ErrorKind = "ActionFailed"
	KindGuardError         ErrorKind = "GuardError"
)

// Error is a classified pipeline error. Two Errors match under errors.Is when
// their kinds are equal, so callers can test against the Err* sentinels below.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrConfigMissing      = &Error{Kind: KindConfigMissing}
	ErrConfigMalformed    = &Error{Kind: KindConfigMalformed}
	ErrConfigTypeMismatch = &Error{Kind: KindConfigTypeMismatch}
	ErrBaseUnresolvable   = &Error{Kind: KindBaseUnresolvable}
	ErrGraphCyclic        = &Error{Kind: KindGraphCyclic}
	ErrMatrixSourceEmpty  = &Error{Kind: KindMatrixSourceEmpty}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrActionFailed       = &Error{Kind: KindActionFailed}
	ErrGuard              = &Error{Kind: KindGuardError}
)

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Package mverr provides the coded error type shared by the core components.
//
// Every failure a core operation reports falls into one of a small set of
// categories. Callers switch on the category rather than on message text:
//
//	ds, err := dm.Dataset(id)
//	if mverr.Is(err, mverr.CodeNotFound) {
//	    // unknown dataset id
//	}
package mverr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	// CodeInvalidArgument marks nil/invalid handles and empty required values.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound marks unknown plugin kinds, dataset ids, action types.
	CodeNotFound Code = "NOT_FOUND"
	// CodeAlreadyInState marks requests that would be a logical no-op
	// (already published, already connected, already being removed).
	CodeAlreadyInState Code = "ALREADY_IN_STATE"
	// CodeDependencyUnsatisfiable marks plugins whose dependencies are
	// missing or cyclic.
	CodeDependencyUnsatisfiable Code = "DEPENDENCY_UNSATISFIABLE"
	// CodeAborted marks operations declined by the user before they started.
	CodeAborted Code = "ABORTED"
	// CodeInternal marks unexpected failures, including recovered panics.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error wrapping cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal for uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// UserMessage returns the message without the code prefix.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Recovered converts a recovered panic value into an internal error.
func Recovered(what string, r any) *Error {
	if err, ok := r.(error); ok {
		return Wrap(CodeInternal, err, "panic in %s", what)
	}
	return New(CodeInternal, "panic in %s: %v", what, r)
}

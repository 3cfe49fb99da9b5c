// Package fault defines the error taxonomy shared by every component.
//
// Errors carry a Code that the HTTP layer maps to a status:
//   - VALIDATION: malformed input, rejected before any state change
//   - NOT_FOUND: unknown candidate, job or reference
//   - INTEGRITY: the audit chain failed verification
//   - EXTERNAL_DEPENDENCY: an ATS or channel call failed
//   - INTERNAL: anything unexpected; the message never leaves the process
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"
	CodeIntegrity  Code = "INTEGRITY"
	CodeExternal   Code = "EXTERNAL_DEPENDENCY"
	CodeInternal   Code = "INTERNAL"
)

// Error is a categorized error with optional structured details.
type Error struct {
	Code    Code
	Message string

	// Details holds extra context for callers (e.g. failed policy checks).
	Details map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e after setting a detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Validation creates a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NOT_FOUND error for a kind ("candidate", "job") and id.
func NotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// Integrity creates an INTEGRITY error for a chain broken at index.
func Integrity(index int, reason string) *Error {
	return &Error{
		Code:    CodeIntegrity,
		Message: fmt.Sprintf("audit chain broken at index %d: %s", index, reason),
		Details: map[string]any{"brokenAtIndex": index},
	}
}

// External wraps a failed call to an external dependency.
func External(dependency string, err error) *Error {
	return &Error{
		Code:    CodeExternal,
		Message: dependency + " call failed",
		Err:     err,
	}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or
// CodeInternal when err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// IsValidation reports whether err is a VALIDATION error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsIntegrity reports whether err is an INTEGRITY error.
func IsIntegrity(err error) bool { return is(err, CodeIntegrity) }

// IsExternal reports whether err is an EXTERNAL_DEPENDENCY error.
func IsExternal(err error) bool { return is(err, CodeExternal) }

func is(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

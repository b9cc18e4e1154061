// Package apperrors defines the error taxonomy shared by the credential,
// ledger, inventory and import layers.  Every failure that crosses a
// package boundary carries a Code so that handlers can map it to an HTTP
// status without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	CodeValidation    Code = "validation"     // malformed or missing input
	CodeDuplicate     Code = "duplicate"      // record already exists
	CodeNotFound      Code = "not_found"      // no matching attendee/resource
	CodeStateConflict Code = "state_conflict" // prerequisite unmet
	CodeDepleted      Code = "depleted"       // inventory exhausted
	CodeCredential    Code = "credential"     // bad signature, expired or corrupted token
	CodePersistence   Code = "persistence"    // transaction failure, no state change occurred
)

// Error is the concrete error type.  Err is optional and holds the
// underlying cause for logging; it is never shown to API clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.  A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or the
// empty string when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

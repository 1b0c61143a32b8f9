package apperr

import (
	"errors"
	"fmt"
)

// Error codes. Handlers map these to HTTP status codes.
const (
	CodeInvalid     = "invalid"     // 400
	CodeNotFound    = "not_found"   // 404
	CodeConflict    = "conflict"    // 409
	CodeUnavailable = "unavailable" // 503, transient infrastructure failure
	CodeInternal    = "internal"    // 500
)

// Error is a coded application error. Op names the operation that failed
// (e.g. "tax.create_rate") and is meant for logs, not for clients.
type Error struct {
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a coded error with a formatted message.
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. Returns nil when err is nil.
func Wrap(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// Code returns the code of the outermost *Error in the chain, or
// CodeInternal for anything else.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Message returns a client-safe message. Internal errors are masked.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// Validation builds a CodeInvalid error.
func Validation(op, format string, args ...interface{}) error {
	return Errorf(CodeInvalid, op, format, args...)
}

// NotFound builds a CodeNotFound error for the named resource.
func NotFound(op, resource string, id interface{}) error {
	return Errorf(CodeNotFound, op, "%s %v not found", resource, id)
}

// Conflict builds a CodeConflict error.
func Conflict(op, format string, args ...interface{}) error {
	return Errorf(CodeConflict, op, format, args...)
}

// Unavailable wraps a transient infrastructure failure.
func Unavailable(err error, op, message string) error {
	return Wrap(err, CodeUnavailable, op, message)
}

package domain

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeAuth       = "AUTH"
	CodeStoreRead  = "STORE_READ"
	CodeStoreWrite = "STORE_WRITE"
	CodeValidation = "VALIDATION"
	CodeNotFound   = "NOT_FOUND"
	CodeClosed     = "CLOSED"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrAuth       = &Error{Code: CodeAuth}
	ErrStoreRead  = &Error{Code: CodeStoreRead}
	ErrStoreWrite = &Error{Code: CodeStoreWrite}
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrClosed     = &Error{Code: CodeClosed, Message: "client closed"}
)

// Error is a classified failure.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is compares by code so that wrapped errors match the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a classified error.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapError classifies err under code. Returns nil when err is nil.
func WrapError(code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Package errdefs provides the classified error type shared by the bundle
// store, deployer, and snapshot components. Errors carry a class that decides
// retry/abort behavior and a code for programmatic handling.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, interrupted downloads, flaky subprocesses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates an operation that would violate an invariant.
	// Examples: deleting a bundle's current version, version capacity exhausted.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: missing bundle, invalid descriptor, unsafe filename.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the bundle, version, or file that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransient creates a new transient error.
func NewTransient(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflict creates a new conflict error.
func NewConflict(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err, Code: CodeConflict}
}

// NewNotFound creates a permanent not-found error.
func NewNotFound(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err, Code: CodeNotFound}
}

// NewValidation creates a permanent validation error.
func NewValidation(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err, Code: CodeValidation}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsValidation returns true if the error carries the VALIDATION_ERROR code.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsChecksumMismatch returns true if the error carries the CHECKSUM_MISMATCH code.
func IsChecksumMismatch(err error) bool {
	return hasCode(err, CodeChecksumMismatch)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeValidation       = "VALIDATION_ERROR"
	CodeConflict         = "CONFLICT"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeTimeout          = "TIMEOUT"
	CodeSubprocessFailed = "SUBPROCESS_FAILED"
)

// Package apperr defines the error taxonomy surfaced across the trending
// engine's external interfaces, grounded on the plain errors.New/fmt.Errorf
// plus errors.Is idiom used throughout the teacher's ingest and store code.
package apperr

import "errors"

// Code identifies one of the error classes enumerated in the specification's
// error handling design: validation, backpressure, storage, consistency, and
// subscriber errors.
type Code string

const (
	// CodeInvalidEvent marks a rejected event: unknown category or a
	// timestamp outside the accepted skew window.
	CodeInvalidEvent Code = "InvalidEvent"
	// CodeOverloaded marks a retryable backpressure rejection (ingest
	// queue full).
	CodeOverloaded Code = "Overloaded"
	// CodeDuplicate is a non-error status: the event was already seen.
	CodeDuplicate Code = "Duplicate"
	// CodeStorageUnavailable marks a transient storage failure, retried
	// internally up to a small budget before the event is dropped.
	CodeStorageUnavailable Code = "StorageUnavailable"
	// CodeSnapshotBuildFailed marks a detected invariant violation during
	// refresh; the affected (window, category) pair keeps its prior
	// snapshot.
	CodeSnapshotBuildFailed Code = "SnapshotBuildFailed"
	// CodeSlowConsumer marks a subscriber whose mailbox overflowed and was
	// disconnected.
	CodeSlowConsumer Code = "SlowConsumer"
)

// Error is a coded application error. It wraps an optional underlying cause
// so callers can still errors.Is/As against it.
type Error struct {
	code  Code
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's taxonomy code.
func (e *Error) Code() Code { return e.code }

// New builds a coded error with no underlying cause.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap builds a coded error around an underlying cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{code: code, msg: msg, cause: cause}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.code == code
	}
	return false
}

// Sentinel errors for common cases that callers commonly want to compare
// directly with errors.Is without constructing a new *Error.
var (
	ErrInvalidEvent        = New(CodeInvalidEvent, "invalid event")
	ErrOverloaded          = New(CodeOverloaded, "ingest queue is full")
	ErrStorageUnavailable  = New(CodeStorageUnavailable, "storage unavailable")
	ErrSnapshotBuildFailed = New(CodeSnapshotBuildFailed, "snapshot build failed")
	ErrSlowConsumer        = New(CodeSlowConsumer, "subscriber mailbox overflowed")
)

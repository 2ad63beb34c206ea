package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse failure taxonomy surfaced to callers. The core
// never retries on its own; every retry is caller-initiated against the
// same idempotent operation.
type ErrorKind string

const (
	// ErrConflict: an operation of the same kind is already in flight
	ErrConflict ErrorKind = "Conflict"
	// ErrValidation: unknown id, label, mode or source; never retried
	ErrValidation ErrorKind = "ValidationError"
	// ErrPartialBatch: some items succeeded, the rest did not; already
	// written rows are kept
	ErrPartialBatch ErrorKind = "PartialBatchFailure"
	// ErrInsufficientData: training preconditions unmet; fatal to that
	// invocation only
	ErrInsufficientData ErrorKind = "InsufficientData"
	// ErrIndeterminate: a poll loop exhausted its wait budget; the backend
	// job may still finish and is not rolled back
	ErrIndeterminate ErrorKind = "Indeterminate"
	// ErrUpstreamUnavailable: remote classifier unreachable
	ErrUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
)

// TriageError is the structured error carried across component boundaries
type TriageError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TriageError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TriageError) Unwrap() error { return e.Err }

// Errorf builds a TriageError of the given kind
func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &TriageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind to an underlying error
func WrapErr(kind ErrorKind, msg string, err error) error {
	return &TriageError{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain, or "" if the
// error carries none.
func KindOf(err error) ErrorKind {
	var te *TriageError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

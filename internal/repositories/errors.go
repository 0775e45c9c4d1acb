package repositories

import (
	"errors"
	"fmt"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
	kindInvalid
)

// Error is the RepositoryError used by non-Firestore backends.
type Error struct {
	Op   string
	kind errorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// IsInvalid reports whether the repository rejected its arguments.
func (e *Error) IsInvalid() bool { return e != nil && e.kind == kindInvalid }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, message string) *Error {
	return &Error{Op: op, kind: kindNotFound, Err: errors.New(message)}
}

// NewConflictError reports a write that collided with existing state.
func NewConflictError(op, message string) *Error {
	return &Error{Op: op, kind: kindConflict, Err: errors.New(message)}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *Error {
	return &Error{Op: op, kind: kindUnavailable, Err: err}
}

// NewInvalidError reports invalid repository arguments.
func NewInvalidError(op, message string) *Error {
	return &Error{Op: op, kind: kindInvalid, Err: errors.New(message)}
}

// IsNotFound reports whether err carries a RepositoryError classified as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a RepositoryError classified as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries a RepositoryError classified as unavailable.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// CounterError reports a counter document that could not be advanced.
type CounterError struct {
	CounterID string
	Day       string
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("counter %s for %s: %v", e.CounterID, e.Day, e.Err)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

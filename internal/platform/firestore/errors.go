package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the repository semantics callers branch on.
type Error struct {
	op   string
	err  error
	code codes.Code
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Code returns the gRPC status code reported by Firestore.
func (e *Error) Code() codes.Code {
	if e == nil {
		return codes.OK
	}
	return e.code
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.code == codes.NotFound
}

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.AlreadyExists, codes.Aborted, codes.OutOfRange:
		return true
	case codes.FailedPrecondition:
		return !e.IsMissingIndex()
	}
	return false
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// IsMissingIndex reports whether a query was rejected because its composite index does not exist.
func (e *Error) IsMissingIndex() bool {
	if e == nil || e.code != codes.FailedPrecondition {
		return false
	}
	return strings.Contains(strings.ToLower(e.err.Error()), "index")
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if op != "" && existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, code: status.Code(err)}
}

// IsMissingIndex reports whether err wraps a Firestore missing-index failure.
func IsMissingIndex(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.IsMissingIndex()
	}
	return false
}

// IsNotFound reports whether err wraps a Firestore NotFound failure.
func IsNotFound(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}

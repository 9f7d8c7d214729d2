package gate

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is the cause reported when a call is refused without any
// network I/O because the dependency's breaker is open, or half-open with
// its single trial already in flight.
var ErrCircuitOpen = errors.New("circuit open")

// DependencyUnavailableError is the single failure shape returned for
// exhausted retries, an open circuit or an elapsed caller deadline.
type DependencyUnavailableError struct {
	Name  string
	Cause error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Name, e.Cause)
}

func (e *DependencyUnavailableError) Unwrap() error { return e.Cause }

// IsUnavailable reports whether err is (or wraps) a DependencyUnavailableError.
func IsUnavailable(err error) bool {
	var du *DependencyUnavailableError
	return errors.As(err, &du)
}

// RejectedError marks an application-level refusal by the remote side
// (for example "invalid request" or "not found").  Rejections are never
// retried and do not count against the breaker.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return "rejected: " + e.Err.Error() }

func (e *RejectedError) Unwrap() error { return e.Err }

// Reject wraps err as a rejection.  A nil err stays nil.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &RejectedError{Err: err}
}

// IsRejected reports whether err is (or wraps) a RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// callerGoneError wraps failures caused by the caller's own context
// ending; they say nothing about the dependency's health.
type callerGoneError struct{ err error }

func (e *callerGoneError) Error() string { return e.err.Error() }

func (e *callerGoneError) Unwrap() error { return e.err }

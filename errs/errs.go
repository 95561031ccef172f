// Package errs defines the error kinds shared by the coordination primitives.
//
// Every suspension point (limiter, keylock, ratelimit, pool) reports a waiter
// that gave up before admission as ErrCancelled, never as a computation
// failure. The returned error also matches the context error that caused it,
// so both of these hold:
//
//	errors.Is(err, errs.ErrCancelled)
//	errors.Is(err, context.DeadlineExceeded)
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when a waiter is abandoned before admission.
	ErrCancelled = errors.New("coord: cancelled before admission")

	// ErrPoolClosed is returned by Acquire on a pool that was shut down.
	// It is fatal: retrying will not help.
	ErrPoolClosed = errors.New("coord: pool closed")

	// ErrNotFound is what callers report when no source produced a value.
	ErrNotFound = errors.New("coord: not found in any source")

	// ErrInvalidConfig is wrapped by constructors that reject their options.
	ErrInvalidConfig = errors.New("coord: invalid configuration")
)

type cancelled struct{ cause error }

func (e *cancelled) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e *cancelled) Is(target error) bool { return target == ErrCancelled }
func (e *cancelled) Unwrap() error        { return e.cause }

// Cancelled wraps cause (usually ctx.Err()) as an ErrCancelled.
func Cancelled(cause error) error {
	return &cancelled{cause: cause}
}

// IsCancelled reports whether err is an admission cancellation.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// Invalid builds an ErrInvalidConfig error with context.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Message translates an error into the text shown to users.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not found in any source"
	case errors.Is(err, ErrCancelled):
		return "operation aborted"
	case errors.Is(err, ErrPoolClosed):
		return "resource pool is shut down"
	default:
		return err.Error()
	}
}

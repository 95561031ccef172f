// Package retry re-invokes fallible operations with linear backoff.
//
// After the k-th failed attempt the policy waits BaseDelay*k before the next
// one. Only errors matching Policy.On (errors.Is) or Policy.If are retried;
// any other error is returned at once. When MaxAttempts is used up, the last
// error is returned as is.
//
//	p := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, On: []error{ErrTransient}}
//	body, err := retry.Do(ctx, p, fetch)
package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how an operation is retried. The zero value makes a
// single attempt.
type Policy struct {
	// MaxAttempts counts the first call; 1 (or less) means no retries.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait.
	BaseDelay time.Duration
	// On lists retryable error kinds, matched with errors.Is.
	On []error
	// If is an extra retryable predicate. With neither On nor If set,
	// every error is retryable.
	If func(error) bool

	// Name labels log records.
	Name   string
	Logger *slog.Logger
}

// Retryable reports whether err may be retried under p.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if len(p.On) == 0 && p.If == nil {
		return true
	}
	for _, kind := range p.On {
		if errors.Is(err, kind) {
			return true
		}
	}
	return p.If != nil && p.If(err)
}

// Run calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. A ctx that ends during a wait stops the loop with
// ctx.Err().
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(p.MaxAttempts, 1)

	var attempt atomic.Int64
	return goretry.Do(ctx, Linear(p.BaseDelay, attempts), func(ctx context.Context) error {
		n := attempt.Add(1)
		err := fn(ctx)
		if err == nil || !p.Retryable(err) {
			return err
		}
		if int(n) < attempts {
			logger.Warn("attempt failed, retrying",
				slog.String("op", p.Name),
				slog.Int64("attempt", n),
				slog.Int("max_attempts", attempts),
				slog.Duration("delay", p.BaseDelay*time.Duration(n)),
				slog.Any("error", err),
			)
		}
		return goretry.RetryableError(err)
	})
}

// Do runs fn under p and returns its value.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := p.Run(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// Wrap returns fn guarded by p.
func Wrap[T any](p Policy, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) { return Do(ctx, p, fn) }
}

// Linear returns a go-retry backoff that waits base*k after the k-th failure
// and stops after maxAttempts-1 waits. Each call returns a fresh sequence.
func Linear(base time.Duration, maxAttempts int) goretry.Backoff {
	var k int64
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		n := atomic.AddInt64(&k, 1)
		if n >= int64(maxAttempts) {
			return 0, true
		}
		return base * time.Duration(n), false
	})
}

// Package ratelimit admits operations at a steady rate with a burst allowance.
//
// It is a token bucket: the bucket starts full with Burst tokens, every
// admission takes one, and tokens flow back continuously at PerSecond, so a
// saturated caller is spaced 1/PerSecond apart instead of in batches.
package ratelimit

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/coord/errs"
)

// Options configures a Limiter.
type Options struct {
	// PerSecond is the refill rate. Must be > 0.
	PerSecond float64
	// Burst is the bucket size and initial token count. Must be > 0.
	Burst int

	Name   string
	Logger *slog.Logger
}

// Limiter is a token bucket. Safe for concurrent use.
type Limiter struct {
	lim *rate.Limiter
	opt Options
}

// New constructs a Limiter.
func New(opt Options) (*Limiter, error) {
	if opt.PerSecond <= 0 {
		return nil, errs.Invalid("ratelimit: calls per second must be > 0, got %v", opt.PerSecond)
	}
	if opt.Burst <= 0 {
		return nil, errs.Invalid("ratelimit: burst must be > 0, got %d", opt.Burst)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(opt.PerSecond), opt.Burst), opt: opt}, nil
}

// Acquire waits for a token and consumes it. A ctx that ends first, or a
// deadline too close to ever get a token, returns an errs.ErrCancelled error
// and consumes nothing.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.lim.Tokens() < 1 {
		l.opt.Logger.Debug("rate limited, waiting for token", slog.String("limiter", l.opt.Name))
	}
	if err := l.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errs.Cancelled(ctx.Err())
		}
		return errs.Cancelled(err)
	}
	return nil
}

// Allow consumes a token only if one is available now.
func (l *Limiter) Allow() bool { return l.lim.Allow() }

// Tokens returns the current (fractional) token count.
func (l *Limiter) Tokens() float64 { return l.lim.Tokens() }

// Do waits for a token, then runs fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Wrap returns fn guarded by l.
func Wrap[T any](l *Limiter, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if err := l.Acquire(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}
}

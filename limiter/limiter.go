// Package limiter caps the number of operations of one kind in flight at once.
//
// Waiters are admitted in FIFO order. A waiter whose context ends before
// admission leaves the queue without taking a slot and gets an error that
// matches errs.ErrCancelled.
//
//	lim, _ := limiter.New(limiter.Options{Capacity: 4})
//	release, err := lim.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
package limiter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/IvanBrykalov/coord/errs"
)

// Observer receives in-flight changes; metrics/prom provides one.
type Observer interface {
	InFlight(name string, n int)
}

// Options configures a Limiter.
type Options struct {
	// Capacity is the maximum number of concurrent holders. Must be > 0.
	Capacity int
	// Name labels log records and observer updates.
	Name     string
	Observer Observer
	Logger   *slog.Logger
}

// Limiter is a counting admission gate. Safe for concurrent use.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
	opt      Options
}

// New constructs a Limiter.
func New(opt Options) (*Limiter, error) {
	if opt.Capacity <= 0 {
		return nil, errs.Invalid("limiter: capacity must be > 0, got %d", opt.Capacity)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(opt.Capacity)),
		capacity: opt.Capacity,
		opt:      opt,
	}, nil
}

// Acquire blocks until a slot is free, then returns a release function.
// The release function must be called once; later calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, errs.Cancelled(err)
	}
	l.observe(l.inFlight.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			l.observe(l.inFlight.Add(-1))
			l.sem.Release(1)
		})
	}, nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *Limiter) TryAcquire() (release func(), ok bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	l.observe(l.inFlight.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			l.observe(l.inFlight.Add(-1))
			l.sem.Release(1)
		})
	}, true
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InFlight returns the number of current holders.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Available returns capacity minus in-flight holders.
func (l *Limiter) Available() int { return l.capacity - l.InFlight() }

// Capacity returns the configured maximum.
func (l *Limiter) Capacity() int { return l.capacity }

func (l *Limiter) observe(n int64) {
	if l.opt.Observer != nil {
		l.opt.Observer.InFlight(l.opt.Name, int(n))
	}
	if n == int64(l.capacity) {
		l.opt.Logger.Debug("limiter saturated", slog.String("limiter", l.opt.Name), slog.Int("capacity", l.capacity))
	}
}

// Package pool caps and reuses a scarce resource, such as an HTTP session,
// across callers.
//
// At most MaxResources underlying resources exist at once; Acquire beyond
// that bound waits for a Release. Leases go back to the pool, they are not
// destroyed, until the pool itself is closed. Acquire on a closed pool fails
// with errs.ErrPoolClosed instead of waiting, and so do callers that were
// already waiting when Close began.
//
//	p, _ := pool.New(pool.Options[*pool.Session]{
//	    MaxResources: 10,
//	    Constructor:  pool.HTTPSessionConstructor(30*time.Second, time.Minute),
//	    Destructor:   (*pool.Session).Close,
//	})
//	defer p.Close()
//	err := p.With(ctx, func(ctx context.Context, s *pool.Session) error { ... })
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jackc/puddle/v2"

	"github.com/IvanBrykalov/coord/errs"
)

// Options configures a Pool.
type Options[T any] struct {
	// MaxResources bounds how many resources exist at once. Must be > 0.
	MaxResources int
	// Constructor creates a resource. Required.
	Constructor func(ctx context.Context) (T, error)
	// Destructor releases a resource's underlying handles. Optional.
	Destructor func(T)

	Name   string
	Logger *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Total    int
	Acquired int
	Idle     int
	Max      int
}

// Pool is safe for concurrent use.
type Pool[T any] struct {
	p   *puddle.Pool[T]
	opt Options[T]

	closed   atomic.Bool
	closing  context.Context // done once Close begins; wakes parked waiters
	shutdown context.CancelFunc
}

// New constructs a Pool. No resource is created until the first Acquire.
func New[T any](opt Options[T]) (*Pool[T], error) {
	if opt.MaxResources <= 0 {
		return nil, errs.Invalid("pool: max resources must be > 0, got %d", opt.MaxResources)
	}
	if opt.Constructor == nil {
		return nil, errs.Invalid("pool: constructor is required")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	destroy := opt.Destructor
	if destroy == nil {
		destroy = func(T) {}
	}
	name, logger := opt.Name, opt.Logger

	p, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: opt.Constructor,
		Destructor: func(v T) {
			destroy(v)
			logger.Debug("pool resource destroyed", slog.String("pool", name))
		},
		MaxSize: int32(opt.MaxResources),
	})
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	closing, shutdown := context.WithCancel(context.Background())
	return &Pool[T]{p: p, opt: opt, closing: closing, shutdown: shutdown}, nil
}

// Acquire returns a lease on a resource, creating one if the pool is below
// MaxResources, otherwise waiting for a release. A wait interrupted by Close
// returns errs.ErrPoolClosed.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	if p.closed.Load() {
		return nil, errs.ErrPoolClosed
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.closing, cancel)
	defer stop()

	res, err := p.p.Acquire(actx)
	switch {
	case err == nil:
		if p.closed.Load() {
			res.Release()
			return nil, errs.ErrPoolClosed
		}
		return &Lease[T]{res: res}, nil
	case errors.Is(err, puddle.ErrClosedPool), p.closed.Load() && ctx.Err() == nil:
		return nil, errs.ErrPoolClosed
	case ctx.Err() != nil:
		return nil, errs.Cancelled(ctx.Err())
	default:
		return nil, fmt.Errorf("pool %s: create resource: %w", p.opt.Name, err)
	}
}

// With leases a resource for the duration of fn. The lease is released on
// every exit path, a panic in fn included.
func (p *Pool[T]) With(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease.Value())
}

// Close rejects new acquisitions at once and wakes every waiting Acquire
// with errs.ErrPoolClosed. It then destroys idle resources and blocks until
// every leased resource is released and destroyed.
func (p *Pool[T]) Close() {
	p.closed.Store(true)
	p.shutdown()
	p.p.Close()
	p.opt.Logger.Debug("pool closed", slog.String("pool", p.opt.Name))
}

// Stats reports current pool occupancy.
func (p *Pool[T]) Stats() Stats {
	st := p.p.Stat()
	return Stats{
		Total:    int(st.TotalResources()),
		Acquired: int(st.AcquiredResources()),
		Idle:     int(st.IdleResources()),
		Max:      int(st.MaxResources()),
	}
}

// Lease is one checked-out resource.
type Lease[T any] struct {
	res  *puddle.Resource[T]
	once sync.Once
}

// Value returns the leased resource.
func (l *Lease[T]) Value() T { return l.res.Value() }

// Release returns the resource to the pool. Extra calls are ignored.
func (l *Lease[T]) Release() { l.once.Do(l.res.Release) }

// Destroy drops a broken resource instead of returning it.
func (l *Lease[T]) Destroy() { l.once.Do(l.res.Destroy) }

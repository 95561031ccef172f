// Package keylock hands out one mutual-exclusion lock per key.
//
// Holders of the same key run one at a time, in FIFO order; different keys
// never block each other. Locks are created on first use and kept for the
// life of the Registry, so keys should come from a small, bounded set
// (template names, resource identifiers), not from request data.
//
// The usual pairing is with a cache, giving at most one computation per key:
//
//	if v, ok := c.Get(k); ok {
//	    return v, nil
//	}
//	unlock, err := locks.Lock(ctx, k)
//	if err != nil {
//	    return zero, err
//	}
//	defer unlock()
//	if v, ok := c.Get(k); ok { // filled by the previous holder
//	    return v, nil
//	}
//	v, err := compute(ctx, k)
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/IvanBrykalov/coord/errs"
)

// Registry maps keys to locks. The zero value is ready to use.
type Registry[K comparable] struct {
	mu sync.Mutex
	m  map[K]*semaphore.Weighted
}

// New returns an empty Registry.
func New[K comparable]() *Registry[K] { return &Registry[K]{} }

// Lock blocks until the lock for key is held, then returns its unlock
// function. A waiter whose ctx ends first leaves the queue and gets an
// errs.ErrCancelled error.
func (r *Registry[K]) Lock(ctx context.Context, key K) (unlock func(), err error) {
	l := r.lockFor(key)
	if err := l.Acquire(ctx, 1); err != nil {
		return nil, errs.Cancelled(err)
	}
	var once sync.Once
	return func() { once.Do(func() { l.Release(1) }) }, nil
}

// TryLock takes the lock for key only if it is free right now.
func (r *Registry[K]) TryLock(key K) (unlock func(), ok bool) {
	l := r.lockFor(key)
	if !l.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { l.Release(1) }) }, true
}

// With runs fn while holding the lock for key.
func (r *Registry[K]) With(ctx context.Context, key K, fn func(ctx context.Context) error) error {
	unlock, err := r.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Len returns the number of keys that ever had a lock.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func (r *Registry[K]) lockFor(key K) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[K]*semaphore.Weighted)
	}
	l, ok := r.m[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		r.m[key] = l
	}
	return l
}

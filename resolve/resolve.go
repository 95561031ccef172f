// Package resolve is the get-or-compute pipeline that ties the primitives
// together:
//
//	monitor span
//	  └─ cache lookup (when caching is on)
//	       └─ limiter admission
//	            └─ per-key lock
//	                 └─ cache lookup again
//	                      └─ Source.Resolve
//	                           └─ cache store
//
// Concurrent Get calls for the same missing key run the Source once; the
// others wait on the key lock and are served from the cache.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/errs"
	"github.com/IvanBrykalov/coord/keylock"
	"github.com/IvanBrykalov/coord/limiter"
	"github.com/IvanBrykalov/coord/monitor"
)

// Source computes the value for a name. found == false means no value
// exists; that is not an error.
//
// *race.Resolver[string, V] satisfies Source.
type Source[V any] interface {
	Resolve(ctx context.Context, name string) (v V, found bool, err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[V any] func(ctx context.Context, name string) (V, bool, error)

func (f SourceFunc[V]) Resolve(ctx context.Context, name string) (V, bool, error) {
	return f(ctx, name)
}

// DefaultMaxConcurrent is used when neither Limiter nor MaxConcurrent is set.
const DefaultMaxConcurrent = 10

// Options configures a Resolver.
type Options[V any] struct {
	// Source produces values on a miss. Required.
	Source Source[V]
	// Name is the monitor operation name. Default "resolve".
	Name string
	// Namespace prefixes cache keys ("<namespace>:<name>[:<variant>]").
	Namespace string
	// Cache holds resolved values. Nil disables caching.
	Cache cache.Cache[string, V]
	// Limiter admits misses. Nil builds one with MaxConcurrent slots.
	Limiter       *limiter.Limiter
	MaxConcurrent int
	// Locks serializes work per name. Nil builds a private registry.
	Locks   *keylock.Registry[string]
	Monitor *monitor.Monitor
	Logger  *slog.Logger
}

// Resolver is safe for concurrent use.
type Resolver[V any] struct {
	opt Options[V]
}

// New constructs a Resolver.
func New[V any](opt Options[V]) (*Resolver[V], error) {
	if opt.Source == nil {
		return nil, errs.Invalid("resolve: source is required")
	}
	if opt.Name == "" {
		opt.Name = "resolve"
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Limiter == nil {
		n := opt.MaxConcurrent
		if n <= 0 {
			n = DefaultMaxConcurrent
		}
		lim, err := limiter.New(limiter.Options{Capacity: n, Name: opt.Name, Logger: opt.Logger})
		if err != nil {
			return nil, err
		}
		opt.Limiter = lim
	}
	if opt.Locks == nil {
		opt.Locks = keylock.New[string]()
	}
	if opt.Monitor == nil {
		opt.Monitor = monitor.New(monitor.Options{Logger: opt.Logger})
	}
	return &Resolver[V]{opt: opt}, nil
}

// Key returns the cache key used for name and variant.
func (r *Resolver[V]) Key(name, variant string) string {
	var b strings.Builder
	if r.opt.Namespace != "" {
		b.WriteString(r.opt.Namespace)
		b.WriteByte(':')
	}
	b.WriteString(name)
	if variant != "" {
		b.WriteByte(':')
		b.WriteString(variant)
	}
	return b.String()
}

// Get returns the value for name. variant distinguishes cached renditions
// of the same name and may be empty. A name no source knows yields an error
// matching errs.ErrNotFound; cancellation while waiting yields one matching
// errs.ErrCancelled.
func (r *Resolver[V]) Get(ctx context.Context, name, variant string) (V, error) {
	return monitor.Do(ctx, r.opt.Monitor, r.opt.Name, func(ctx context.Context) (V, error) {
		return r.get(ctx, name, variant)
	})
}

func (r *Resolver[V]) get(ctx context.Context, name, variant string) (V, error) {
	var zero V
	key := r.Key(name, variant)

	if v, ok := r.cached(key); ok {
		return v, nil
	}

	release, err := r.opt.Limiter.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	unlock, err := r.opt.Locks.Lock(ctx, name)
	if err != nil {
		return zero, err
	}
	defer unlock()

	// Another holder of the lock may have filled the entry.
	if v, ok := r.cached(key); ok {
		return v, nil
	}

	v, found, err := r.opt.Source.Resolve(ctx, name)
	if err != nil {
		return zero, err
	}
	if !found {
		r.opt.Logger.Debug("resolve: not found", slog.String("op", r.opt.Name), slog.String("key", key))
		return zero, fmt.Errorf("resolve: %q: %w", name, errs.ErrNotFound)
	}
	if r.opt.Cache != nil {
		r.opt.Cache.Set(key, v)
	}
	return v, nil
}

// Invalidate drops the cached value for name and variant.
func (r *Resolver[V]) Invalidate(name, variant string) bool {
	if r.opt.Cache == nil {
		return false
	}
	return r.opt.Cache.Remove(r.Key(name, variant))
}

// Monitor returns the monitor recording Get spans.
func (r *Resolver[V]) Monitor() *monitor.Monitor { return r.opt.Monitor }

func (r *Resolver[V]) cached(key string) (V, bool) {
	if r.opt.Cache == nil {
		var zero V
		return zero, false
	}
	return r.opt.Cache.Get(key)
}

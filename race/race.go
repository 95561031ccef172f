// Package race resolves a value from several competing producers.
//
// Every registered producer runs concurrently for the requested key. The
// first one to succeed wins; the rest get their context cancelled and their
// results, if any ever arrive, are dropped. A failed producer is not an
// error for the caller: only when every producer fails does the race end
// without a value (State Exhausted, Found false).
//
// Completion order decides the winner, not registration order. Callers must
// treat the winner as "some valid result".
//
// Producers own their cleanup: cancellation is a signal they observe at their
// own blocking points, and whatever they had half-open they must close on
// that path.
package race

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/errs"
	"github.com/IvanBrykalov/coord/limiter"
)

// ErrSkip is returned by a producer that has no value for the key.
var ErrSkip = errors.New("race: no value from this producer")

// Producer is one strategy for producing the value of a key.
type Producer[K comparable, V any] interface {
	Name() string
	Produce(ctx context.Context, key K) (V, error)
}

type funcProducer[K comparable, V any] struct {
	name string
	fn   func(ctx context.Context, key K) (V, error)
}

func (p funcProducer[K, V]) Name() string { return p.name }
func (p funcProducer[K, V]) Produce(ctx context.Context, key K) (V, error) {
	return p.fn(ctx, key)
}

// Func adapts a function into a named Producer.
func Func[K comparable, V any](name string, fn func(ctx context.Context, key K) (V, error)) Producer[K, V] {
	return funcProducer[K, V]{name: name, fn: fn}
}

// State is the phase of one race.
type State int

const (
	Pending   State = iota // producers launched, none finished
	Racing                 // some failed, others still running
	Won                    // one producer succeeded
	Exhausted              // every producer failed
	Cancelled              // the caller gave up first
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Racing:
		return "racing"
	case Won:
		return "won"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome describes how a race ended.
type Outcome[V any] struct {
	ID       string
	Value    V
	Found    bool
	Winner   string // producer name, or "memo" for a memoized value
	State    State
	Failures int
	Elapsed  time.Duration
}

// MemoWinner is the Winner reported for a value served from Options.Memo.
const MemoWinner = "memo"

// Options configures a Resolver.
type Options[K comparable, V any] struct {
	// Producers is the fixed candidate list. At least one is required.
	Producers []Producer[K, V]
	// Limiter bounds how many races run at once. Nil means unbounded.
	Limiter *limiter.Limiter
	// Memo stores winners; a hit skips the race. Nil disables memoization.
	Memo   cache.Cache[K, V]
	Logger *slog.Logger
}

// Resolver runs races. Safe for concurrent use.
type Resolver[K comparable, V any] struct {
	opt Options[K, V]
}

// New constructs a Resolver.
func New[K comparable, V any](opt Options[K, V]) (*Resolver[K, V], error) {
	if len(opt.Producers) == 0 {
		return nil, errs.Invalid("race: at least one producer is required")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Resolver[K, V]{opt: opt}, nil
}

// Producers returns the names of the registered producers.
func (r *Resolver[K, V]) Producers() []string {
	names := make([]string, len(r.opt.Producers))
	for i, p := range r.opt.Producers {
		names[i] = p.Name()
	}
	return names
}

type result[V any] struct {
	name string
	val  V
	err  error
}

// Race runs every producer for key and returns the first success. The error
// is non-nil only when ctx ends before the race is decided (errs.ErrCancelled).
func (r *Resolver[K, V]) Race(ctx context.Context, key K) (out Outcome[V], err error) {
	out = Outcome[V]{ID: uuid.NewString(), State: Pending}
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	if r.opt.Memo != nil {
		if v, ok := r.opt.Memo.Get(key); ok {
			out.Value, out.Found, out.Winner, out.State = v, true, MemoWinner, Won
			return out, nil
		}
	}

	if r.opt.Limiter != nil {
		release, err := r.opt.Limiter.Acquire(ctx)
		if err != nil {
			out.State = Cancelled
			return out, err
		}
		defer release()
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so that late losers never block after the race is decided.
	results := make(chan result[V], len(r.opt.Producers))
	for _, p := range r.opt.Producers {
		go run(raceCtx, p, key, results)
	}

	log := r.opt.Logger.With(slog.String("race", out.ID), slog.Any("key", key))
	for remaining := len(r.opt.Producers); remaining > 0; remaining-- {
		select {
		case res := <-results:
			if res.err == nil {
				cancel()
				out.Value, out.Found, out.Winner = res.val, true, res.name
				r.transition(log, &out, Won)
				if r.opt.Memo != nil {
					r.opt.Memo.Set(key, res.val)
				}
				return out, nil
			}
			out.Failures++
			log.Debug("race candidate failed", slog.String("candidate", res.name), slog.Any("error", res.err))
			r.transition(log, &out, Racing)
		case <-ctx.Done():
			r.transition(log, &out, Cancelled)
			return out, errs.Cancelled(ctx.Err())
		}
	}
	r.transition(log, &out, Exhausted)
	return out, nil
}

// Resolve is Race reduced to (value, found, err).
func (r *Resolver[K, V]) Resolve(ctx context.Context, key K) (V, bool, error) {
	out, err := r.Race(ctx, key)
	return out.Value, out.Found, err
}

func (r *Resolver[K, V]) transition(log *slog.Logger, out *Outcome[V], to State) {
	if out.State == to {
		return
	}
	log.Debug("race state", slog.String("from", out.State.String()), slog.String("to", to.String()))
	out.State = to
}

// run executes one producer; a panic counts as a failure.
func run[K comparable, V any](ctx context.Context, p Producer[K, V], key K, results chan<- result[V]) {
	res := result[V]{name: p.Name()}
	defer func() {
		if rec := recover(); rec != nil {
			var zero V
			res.val, res.err = zero, fmt.Errorf("race: producer %s panicked: %v", p.Name(), rec)
		}
		results <- res
	}()
	res.val, res.err = p.Produce(ctx, key)
}

package keylock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/coord/errs"
)

// N concurrent get-or-compute calls for one missing key run compute once.
func TestRegistry_GetOrComputeDedup(t *testing.T) {
	t.Parallel()

	var (
		locks Registry[string]
		mu    sync.Mutex
		store = map[string]string{}
		calls atomic.Int64
	)
	get := func(k string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		v, ok := store[k]
		return v, ok
	}
	getOrCompute := func(ctx context.Context, k string) (string, error) {
		if v, ok := get(k); ok {
			return v, nil
		}
		unlock, err := locks.Lock(ctx, k)
		if err != nil {
			return "", err
		}
		defer unlock()
		if v, ok := get(k); ok {
			return v, nil
		}
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		v := "v:" + k
		mu.Lock()
		store[k] = v
		mu.Unlock()
		return v, nil
	}

	const N = 64
	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := getOrCompute(context.Background(), "same")
			if err != nil {
				return err
			}
			if v != "v:same" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, calls.Load(), "compute must run exactly once")
}

// Holding one key must not block another.
func TestRegistry_DistinctKeysIndependent(t *testing.T) {
	t.Parallel()

	r := New[string]()
	unlockA, err := r.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := r.Lock(ctx, "b")
	require.NoError(t, err, "lock b blocked by a")
	unlockB()

	_, ok := r.TryLock("a")
	assert.False(t, ok, "a is held; TryLock must fail")
	assert.Equal(t, 2, r.Len())
}

// A cancelled waiter leaves without taking the lock.
func TestRegistry_CancelledWaiter(t *testing.T) {
	t.Parallel()

	var r Registry[int]
	unlock, _ := r.Lock(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Lock(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	u2, ok := r.TryLock(1)
	require.True(t, ok, "lock must be free after the holder released and the waiter left")
	u2()
}

func TestRegistry_WithSerializes(t *testing.T) {
	t.Parallel()

	var r Registry[string]
	var inside, peak atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			return r.With(context.Background(), "k", func(context.Context) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, peak.Load(), "holders of one key overlapped")
}

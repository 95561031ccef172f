package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/coord/errs"
)

// burst=2, 10/s: two immediate admissions, the third waits ~100ms.
func TestLimiter_BurstThenSpaced(t *testing.T) {
	t.Parallel()

	l, err := New(Options{PerSecond: 10, Burst: 2})
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Less(t, time.Since(start), 30*time.Millisecond, "burst must not wait")

	require.NoError(t, l.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestLimiter_ContinuousRefillSpreadsAdmissions(t *testing.T) {
	t.Parallel()

	l, err := New(Options{PerSecond: 50, Burst: 1})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	prev := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
		now := time.Now()
		gap := now.Sub(prev)
		assert.GreaterOrEqual(t, gap, 10*time.Millisecond, "admission %d clustered", i)
		prev = now
	}
}

func TestLimiter_CancelledWaiterConsumesNothing(t *testing.T) {
	t.Parallel()

	l, err := New(Options{PerSecond: 1, Burst: 1})
	require.NoError(t, err)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.False(t, l.Allow())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	l, err := New(Options{PerSecond: 100, Burst: 1})
	require.NoError(t, err)
	calls := 0
	fn := Wrap(l, func(context.Context) (int, error) { calls++; return calls, nil })
	v, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, l.Do(context.Background(), func(context.Context) error { calls++; return nil }))
	assert.Equal(t, 2, calls)
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	_, err := New(Options{PerSecond: 0, Burst: 1})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = New(Options{PerSecond: 1, Burst: 0})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

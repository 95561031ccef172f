package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/coord/cache"
	"github.com/IvanBrykalov/coord/limiter"
	"github.com/IvanBrykalov/coord/monitor"
)

type nopSampler struct{}

func (nopSampler) ProcessMemory(context.Context) (uint64, error) { return 0, nil }
func (nopSampler) SystemUsage(context.Context) (float64, error)  { return 0, nil }

func TestCache(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewCache(reg, "coord", "test", nil)
	c := cache.New[string, int](cache.Options[string, int]{Capacity: 2, Shards: 2, Metrics: m})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("c")
	c.Get("zzz")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, float64(c.Len()), testutil.ToFloat64(m.size))
	assert.Equal(t, float64(c.Stats().Evictions), testutil.ToFloat64(m.evicts.WithLabelValues("capacity")))

	c.Clear()
	assert.Zero(t, testutil.ToFloat64(m.size))
}

func TestOperations(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	ops := NewOperations(reg, "coord", nil)
	mon := monitor.New(monitor.Options{Sampler: nopSampler{}, Sink: ops})

	for i := 0; i < 3; i++ {
		var err error
		if i == 0 {
			err = errors.New("boom")
		}
		_ = mon.Run(context.Background(), "fetch", func(context.Context) error {
			time.Sleep(time.Millisecond)
			return err
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(ops.errors.WithLabelValues("fetch")))
	assert.Zero(t, testutil.ToFloat64(ops.active))
	assert.Equal(t, 1, testutil.CollectAndCount(ops.duration))
}

func TestInFlight(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	obs := NewInFlight(reg, "coord", nil)
	lim, err := limiter.New(limiter.Options{Capacity: 2, Name: "resolve", Observer: obs})
	require.NoError(t, err)

	r1, err := lim.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := lim.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.gauge.WithLabelValues("resolve")))

	r1()
	r2()
	assert.Zero(t, testutil.ToFloat64(obs.gauge.WithLabelValues("resolve")))
}

package cache

import (
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) NowUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t += int64(d)
	f.mu.Unlock()
}

// Set followed by Get returns the value; after the TTL it is gone.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string, string]{Capacity: 4, TTL: 100 * time.Millisecond, Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v")
	if v, ok := c.Get("x"); !ok || v != "v" {
		t.Fatalf("fresh get: want v, got %q ok=%v", v, ok)
	}
	clk.add(99 * time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("entry younger than ttl must be visible")
	}
	clk.add(time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("entry aged exactly ttl must be absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry must be dropped on read, Len=%d", c.Len())
	}
}

// Reads do not extend the lifetime: TTL counts from the last Set.
func TestCache_TTL_ReadsDoNotRefresh(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string, int]{Capacity: 4, TTL: time.Second, Clock: clk})

	c.Set("a", 1)
	for i := 0; i < 9; i++ {
		clk.add(100 * time.Millisecond)
		if _, ok := c.Get("a"); !ok {
			t.Fatalf("read %d: unexpected miss", i)
		}
	}
	clk.add(100 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("reads must not refresh created_at")
	}

	// Overwriting resets the age.
	c.Set("a", 2)
	clk.add(900 * time.Millisecond)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Fatalf("overwrite must restart ttl, got %v ok=%v", v, ok)
	}
}

// With max_size 3: k1,k2,k3, read k1, insert k4 -> k2 is evicted.
func TestCache_EvictionLRU_NotInsertionOrder(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	var evicted []string
	c := New[string, int](Options[string, int]{
		Capacity: 3,
		Clock:    clk,
		OnEvict: func(k string, _ int, reason EvictReason) {
			if reason != EvictCapacity {
				t.Errorf("unexpected reason %v", reason)
			}
			evicted = append(evicted, k)
		},
	})

	for i, k := range []string{"k1", "k2", "k3"} {
		c.Set(k, i)
		clk.add(time.Millisecond)
	}
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 must hit")
	}
	c.Set("k4", 4)

	if _, ok := c.Get("k2"); ok {
		t.Fatal("k2 is least recently used and must be evicted")
	}
	for _, k := range []string{"k1", "k3", "k4"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s must survive", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != "k2" {
		t.Fatalf("OnEvict: want [k2], got %v", evicted)
	}
	if st := c.Stats(); st.Size != 3 || st.Evictions != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

// Overwriting an existing key at capacity must not evict anything.
func TestCache_OverwriteAtCapacity(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 11)

	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("a: want 11, got %v ok=%v", v, ok)
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b must survive an overwrite of a")
	}
}

func TestCache_RemoveClearStats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 8, TTL: time.Minute})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	if !c.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if c.Remove("a") {
		t.Fatal("second Remove must be false")
	}
	c.Get("a") // miss
	c.Get("b") // hit

	st := c.Stats()
	if st.Size != 1 || st.MaxSize != 8 || st.TTL != time.Minute || st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Clear must drop everything, Len=%d", c.Len())
	}
	if st := c.Stats(); st.Evictions != 0 {
		t.Fatalf("Remove/Clear are not evictions, got %d", st.Evictions)
	}
}

// Two Gets with no Set in between observe the same value.
func TestCache_GetIdempotent(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{Capacity: 2})
	_, ok1 := c.Get("missing")
	_, ok2 := c.Get("missing")
	if ok1 || ok2 {
		t.Fatal("missing key must stay missing")
	}
	c.Set("k", "v")
	v1, _ := c.Get("k")
	v2, _ := c.Get("k")
	if v1 != v2 {
		t.Fatalf("repeated reads differ: %q vs %q", v1, v2)
	}
}

func TestCache_ClosedIgnoresOps(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 2})
	c.Set("a", 1)
	_ = c.Close()
	c.Set("b", 2)
	if _, ok := c.Get("a"); ok {
		t.Fatal("closed cache must miss")
	}
	if c.Remove("a") {
		t.Fatal("closed cache must not remove")
	}
}

// Size never exceeds capacity, also when sharded.
func TestCache_ShardedNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 10, Shards: 4})
	for i := 0; i < 1000; i++ {
		c.Set("k:"+strconv.Itoa(i), i)
		if n := c.Len(); n > 10 {
			t.Fatalf("Len=%d exceeds capacity", n)
		}
	}
	if st := c.Stats(); st.MaxSize > 10 {
		t.Fatalf("MaxSize=%d exceeds capacity", st.MaxSize)
	}
}

// Capacity is split evenly across shards; the remainder is dropped.
func TestCache_ShardedCapacityRoundsDown(t *testing.T) {
	t.Parallel()

	c := New[int, int](Options[int, int]{Capacity: 10, Shards: 4})
	if st := c.Stats(); st.MaxSize != 8 {
		t.Fatalf("MaxSize=%d, want 8", st.MaxSize)
	}
	for i := 0; i < 100; i++ {
		c.Set(i, i)
	}
	if n := c.Len(); n > 8 {
		t.Fatalf("Len=%d exceeds effective capacity 8", n)
	}
}

// A mixed concurrent workload; should pass under -race.
func TestCache_ConcurrentMix(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{Capacity: 512, Shards: 8, TTL: 20 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	deadline := time.Now().Add(300 * time.Millisecond)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(w) * 9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(5_000))
				switch r.Intn(10) {
				case 0:
					c.Remove(k)
				case 1, 2:
					c.Set(k, []byte("x"))
				default:
					if v, ok := c.Get(k); ok && string(v) != "x" {
						return fmt.Errorf("torn value %q", v)
					}
				}
				if n := c.Len(); n > 512 {
					return fmt.Errorf("Len=%d exceeds capacity", n)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New must panic on zero capacity")
		}
	}()
	New[string, int](Options[string, int]{})
}

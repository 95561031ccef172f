package cache

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/coord/internal/util"
)

// cache is a sharded in-memory KV store with strict per-shard LRU eviction.
// All methods are safe for concurrent use by multiple goroutines.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   util.Hasher[K]
	closed atomic.Bool
	size   atomic.Int64

	maxSize int
	opt     Options[K, V]
}

// New constructs a cache with the provided Options.
// It panics if Capacity is not positive.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("cache: Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.TTL < 0 {
		opt.TTL = 0
	}

	sh := util.ShardCount(opt.Shards, opt.Capacity)
	perShardCap := opt.Capacity / sh // floor: the total never exceeds Capacity

	c := &cache[K, V]{
		shards:  make([]*shard[K, V], sh),
		hash:    util.NewHasher[K](),
		maxSize: perShardCap * sh,
		opt:     opt,
	}
	for i := range c.shards {
		c.shards[i] = newShard(perShardCap, c.now, &c.size, opt)
	}
	return c
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Get(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.getShard(k).Get(k)
}

func (c *cache[K, V]) Set(k K, v V) {
	if c.closed.Load() {
		return
	}
	c.getShard(k).Set(k, v)
}

func (c *cache[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(k).Remove(k)
}

func (c *cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.Clear()
	}
}

func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *cache[K, V]) Stats() Stats {
	st := Stats{MaxSize: c.maxSize, TTL: c.opt.TTL}
	for _, s := range c.shards {
		st.Size += s.Len()
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
	}
	return st
}

// Close marks the cache as closed. Future operations are ignored.
func (c *cache[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// ---- helpers ----

func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash.Sum(k), len(c.shards))]
}

func (c *cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

package cache

import (
	"log/slog"
	"time"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity: least recently used entry dropped to make room.
	EvictCapacity EvictReason = iota
	// EvictTTL: expired entry dropped on access.
	EvictTTL
)

func (r EvictReason) String() string {
	if r == EvictTTL {
		return "ttl"
	}
	return "capacity"
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache. Zero values are safe; defaults are applied in New():
//   - TTL <= 0     => entries never expire
//   - Shards <= 1  => single shard (global LRU order)
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => slog.Default()
type Options[K comparable, V any] struct {
	// Capacity is the maximum number of resident entries. Must be > 0.
	Capacity int

	// TTL is the lifetime of every entry, measured from its last Set.
	TTL time.Duration

	// Shards splits the cache into independently locked partitions.
	// Rounded to a power of two and clamped to Capacity. Capacity is then
	// rounded down to a multiple of the shard count; Stats().MaxSize reports
	// the effective bound.
	Shards int

	// OnEvict is called on eviction under the shard lock; keep callbacks lightweight.
	OnEvict func(k K, v V, reason EvictReason)
	Metrics Metrics

	// Logger receives debug records for evictions.
	Logger *slog.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

// Package cache provides a bounded, generic, in-memory cache with a uniform
// time-to-live and strict least-recently-used eviction.
//
// Design
//
//   - Capacity: the cache never holds more than Options.Capacity entries.
//     Inserting a new key into a full cache first evicts the entry with the
//     oldest last access (LRU), not the oldest insertion. An entry kept alive
//     by reads outlives one that was read once and left idle.
//
//   - TTL: every entry lives for Options.TTL from its last Set. Expiry is lazy:
//     Get treats an entry whose age reached the TTL as absent and drops it.
//     A zero TTL disables expiry.
//
//   - Storage: each shard keeps a map[K]*node for lookups and an intrusive
//     MRU↔LRU doubly linked list. All operations are O(1).
//
//   - Concurrency: one shard (the default) makes LRU order global. More shards
//     reduce lock contention at the price of per-shard LRU order; capacity is
//     split evenly and the shard count never exceeds capacity.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     NoopMetrics is the default; metrics/prom exports them to Prometheus.
//
//   - Callbacks: Options.OnEvict(k, v, reason) is called for every eviction
//     (reason is EvictCapacity or EvictTTL). Remove and Clear are not evictions.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    Capacity: 128,
//	    TTL:      5 * time.Minute,
//	})
//	c.Set("template:basic", body)
//	if v, ok := c.Get("template:basic"); ok {
//	    _ = v
//	}
//	st := c.Stats() // {Size, MaxSize, TTL, Hits, Misses, Evictions}
//
// All methods on Cache are safe for concurrent use.
package cache

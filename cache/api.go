package cache

import "time"

// Cache is a bounded in-memory key/value cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Reads and writes never block on anything but the shard lock.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a presence flag.
	// An expired entry is reported as absent and dropped.
	// On hit, the entry becomes the most recently used.
	Get(k K) (V, bool)

	// Set inserts or overwrites k→v with a fresh creation time.
	// If k is new and the cache is full, the least recently used entry
	// is evicted first.
	Set(k K, v V)

	// Remove deletes k if present and returns true on success.
	Remove(k K) bool

	// Clear drops every entry.
	Clear()

	// Len returns the number of resident entries, expired ones included
	// until they are touched.
	Len() int

	// Stats reports size, bounds, and counters.
	Stats() Stats

	// Close marks the cache closed. Later calls are no-ops and Get misses.
	Close() error
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Size      int
	MaxSize   int
	TTL       time.Duration
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

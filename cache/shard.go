package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// shard is an independent partition of the cache with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	m    map[K]*node[K, V]
	head *node[K, V] // MRU
	tail *node[K, V] // LRU
	len  int
	cap  int

	ttl   int64
	now   func() int64
	opt   Options[K, V]
	total *atomic.Int64 // entries across all shards, for Metrics.Size

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

func newShard[K comparable, V any](capacity int, now func() int64, total *atomic.Int64, opt Options[K, V]) *shard[K, V] {
	return &shard[K, V]{
		m:     make(map[K]*node[K, V], capacity),
		cap:   capacity,
		ttl:   int64(opt.TTL),
		now:   now,
		opt:   opt,
		total: total,
	}
}

// Get returns the value and promotes the entry to MRU.
// An entry whose age reached the TTL is evicted and reported as a miss.
func (s *shard[K, V]) Get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return s.missLocked()
	}
	now := s.now()
	if s.expiredLocked(n, now) {
		s.evictNode(n, EvictTTL)
		return s.missLocked()
	}

	n.accessed = now
	s.moveToFront(n)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return n.val, true
}

// Set inserts or overwrites an entry with fresh timestamps.
// A new key arriving at a full shard first evicts the LRU entry.
func (s *shard[K, V]) Set(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n, ok := s.m[k]; ok {
		n.val = v
		n.created, n.accessed = now, now
		s.moveToFront(n)
		return
	}

	for s.len >= s.cap {
		tail := s.tail
		if tail == nil {
			break
		}
		s.evictNode(tail, EvictCapacity)
	}

	n := &node[K, V]{key: k, val: v, created: now, accessed: now}
	s.m[k] = n
	s.insertFront(n)
	s.resized(1)
}

// Remove deletes an entry by key. Returns true if the entry existed.
// Explicit removals are not counted as evictions.
func (s *shard[K, V]) Remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	s.removeNode(n)
	delete(s.m, k)
	s.resized(-1)
	return true
}

// Clear drops all entries without calling OnEvict.
func (s *shard[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.len
	s.m = make(map[K]*node[K, V], s.cap)
	s.head, s.tail = nil, nil
	s.len = 0
	s.resized(-dropped)
}

// Len returns the number of resident entries in this shard.
func (s *shard[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// -------------------- internals (mu held) --------------------

func (s *shard[K, V]) missLocked() (V, bool) {
	s.misses.Add(1)
	s.opt.Metrics.Miss()
	var zero V
	return zero, false
}

// expiredLocked reports whether now - created >= ttl.
func (s *shard[K, V]) expiredLocked(n *node[K, V], now int64) bool {
	if s.ttl <= 0 {
		return false
	}
	return now-n.created >= s.ttl
}

// resized reports the cache-wide entry count after a change of delta.
func (s *shard[K, V]) resized(delta int) {
	s.opt.Metrics.Size(int(s.total.Add(int64(delta))))
}

// insertFront inserts n at MRU in O(1).
func (s *shard[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
}

// moveToFront promotes n to MRU in O(1).
func (s *shard[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n and updates the length in O(1).
func (s *shard[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
}

// evictNode removes the node, updates counters, and calls OnEvict.
func (s *shard[K, V]) evictNode(n *node[K, V], reason EvictReason) {
	s.removeNode(n)
	delete(s.m, n.key)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	s.resized(-1)
	s.opt.Logger.Debug("cache eviction",
		slog.Any("key", n.key),
		slog.String("reason", reason.String()),
		slog.Duration("idle", time.Duration(s.now()-n.accessed)),
	)
	if cb := s.opt.OnEvict; cb != nil {
		cb(n.key, n.val, reason)
	}
}

package cache

// node is an intrusive doubly linked list element owned by a shard.
type node[K comparable, V any] struct {
	key K
	val V

	// head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// UnixNano timestamps. created drives TTL, accessed drives LRU order
	// (the list is kept sorted by accessed, newest first).
	created  int64
	accessed int64
}

package util

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 returns the smallest power of two >= x (1 for x <= 1).
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// PrevPow2 returns the largest power of two <= x (1 for x <= 1).
func PrevPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	n := NextPow2(x)
	if n == x {
		return x
	}
	return n >> 1
}

// ShardCount picks the number of shards for a cache holding at most capacity
// entries. requested <= 0 means a single shard, which keeps LRU ordering
// global. The result is a power of two and never exceeds capacity, so every
// shard holds at least one entry and the sum of per-shard capacities never
// exceeds capacity.
func ShardCount(requested, capacity int) int {
	if requested <= 1 || capacity <= 1 {
		return 1
	}
	n := int(NextPow2(uint64(requested)))
	if n > capacity {
		n = int(PrevPow2(uint64(capacity)))
	}
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a 64-bit hash to a shard index.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}

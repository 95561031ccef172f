// Package util contains internal helpers (hashing, sharding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "hash/maphash"

// Hasher hashes comparable keys for shard selection.
// The seed is random per Hasher, so indexes are stable only for one instance.
type Hasher[K comparable] struct {
	seed maphash.Seed
}

// NewHasher returns a Hasher with a fresh random seed.
func NewHasher[K comparable]() Hasher[K] {
	return Hasher[K]{seed: maphash.MakeSeed()}
}

// Sum returns the 64-bit hash of k.
// Unlike a type switch over known key kinds, this accepts any comparable K
// (structs, arrays, pointers) without a String() fallback.
func (h Hasher[K]) Sum(k K) uint64 {
	return maphash.Comparable(h.seed, k)
}

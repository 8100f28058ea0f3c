// Package hash is a standalone pure-function FNV hash utility. It has no
// interaction with the action pipeline or node state machine; it exists
// so callers fingerprinting action payloads (gcsctl, or a host
// application) share one primitive with the same primes/seeds as the
// standard FNV-1a definitions.
package hash

import (
	"hash/fnv"
)

// Sum32 returns the FNV-1a 32-bit hash of data.
func Sum32(data []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return h.Sum32()
}

// Sum64 returns the FNV-1a 64-bit hash of data.
func Sum64(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

// Sum128 returns the FNV-1a 128-bit hash of data as two big-endian
// halves (high, low), for callers that want the wider fingerprint
// without depending on a [16]byte representation.
func Sum128(data []byte) (hi uint64, lo uint64) {
	h := fnv.New128a()
	_, _ = h.Write(data)
	sum := h.Sum(nil)
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(sum[i])
	}
	for i := 8; i < 16; i++ {
		lo = lo<<8 | uint64(sum[i])
	}
	return hi, lo
}

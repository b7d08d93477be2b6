package index

import "github.com/cespare/xxhash/v2"

// Hash returns the 64-bit hash of a UTF-8 byte range.
func Hash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashString returns the 64-bit hash of s.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import (
	"math"
)

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// ToInt32 converts a uint64 to int32, returning overflowErr if it doesn't fit.
func ToInt32(size uint64, overflowErr error) (int32, error) {
	if size > math.MaxInt32 {
		return 0, overflowErr
	}
	return int32(size), nil //nolint:gosec // checked above
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Clamp32 returns v as a uint32, saturating at math.MaxUint32.
// ZIP headers store the saturated value when the real one lives in a ZIP64 field.
func Clamp32(v uint64) uint32 {
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Fits32 reports whether v can be stored in a 32-bit ZIP field without the
// all-ones ZIP64 sentinel.
func Fits32(v uint64) bool {
	return v < math.MaxUint32
}

//go:build !unix

package platform

import "os"

// Map always fails with ErrMapUnsupported on this platform.
func Map(_ *os.File, _ int, _ bool) ([]byte, error) {
	return nil, ErrMapUnsupported
}

// MapRange always fails with ErrMapUnsupported on this platform.
func MapRange(_ *os.File, _ int64, _ int) ([]byte, error) {
	return nil, ErrMapUnsupported
}

// PageSize returns the assumed memory page size.
func PageSize() int {
	return 4096
}

// ReadOnly is a no-op on this platform.
func ReadOnly(_ []byte) error {
	return nil
}

// Unmap is a no-op on this platform.
func Unmap(_ []byte) error {
	return nil
}

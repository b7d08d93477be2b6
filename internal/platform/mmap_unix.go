//go:build unix

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the first size bytes of f into memory.
// A writable mapping is shared, so stores reach the file.
func Map(f *os.File, size int, writable bool) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map %s: invalid size %d", f.Name(), size)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED) //nolint:gosec // fd fits in int
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return data, nil
}

// MapRange maps size bytes of f starting at off for reading.
// off must be a multiple of the page size.
func MapRange(f *os.File, off int64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map %s: invalid size %d", f.Name(), size)
	}
	data, err := unix.Mmap(int(f.Fd()), off, size, unix.PROT_READ, unix.MAP_SHARED) //nolint:gosec // fd fits in int
	if err != nil {
		return nil, fmt.Errorf("mmap %s at %d: %w", f.Name(), off, err)
	}
	return data, nil
}

// PageSize returns the memory page size.
func PageSize() int {
	return unix.Getpagesize()
}

// ReadOnly revokes write access to a mapping created by Map.
func ReadOnly(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Mprotect(data, unix.PROT_READ)
}

// Unmap releases a mapping created by Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// Package scratch provides per-worker memory-mapped scratch files that hold
// compressed entries until they are merged into an archive.
package scratch

import (
	"errors"
	"fmt"
	"os"

	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/sizing"
	"github.com/meigma/ixzip/internal/ziptype"
)

// DefaultSize is the initial mapped size of a scratch file.
// Files are sparse, so untouched pages cost nothing on disk.
const DefaultSize = 64 << 20

// Item describes one encoded entry stored contiguously in a Unit.
type Item struct {
	// Meta carries the entry name, method and mode. Offsets in Meta are
	// assigned by the archive writer at merge time.
	Meta ziptype.EntryMeta

	// CRC32 is the checksum of the uncompressed content.
	CRC32 uint32

	// CompressedSize is the number of encoded bytes at Offset.
	CompressedSize uint64

	// Size is the uncompressed content size.
	Size uint64

	// Offset is the position of the encoded bytes inside the unit.
	Offset uint64
}

// Unit is one worker's scratch space: a mapped file plus the ordered list of
// items written into it.
//
// A Unit is owned by exactly one worker until Finalize, after which it is
// read-only. It is not safe for concurrent use.
type Unit struct {
	f         *os.File
	data      []byte
	mapped    bool
	pos       uint64
	items     []Item
	finalized bool
	closed    bool
}

// Create creates a scratch file in dir (os.TempDir when empty) and maps
// size bytes of it. When mapping is unsupported the unit is backed by heap
// memory instead.
func Create(dir string, size int) (*Unit, error) {
	if size <= 0 {
		size = DefaultSize
	}
	f, err := os.CreateTemp(dir, "ixzip-scratch-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", ziptype.ErrResource, err)
	}
	u := &Unit{f: f}
	if err := u.remap(size); err != nil {
		if !errors.Is(err, platform.ErrMapUnsupported) {
			return nil, errors.Join(fmt.Errorf("%w: %v", ziptype.ErrResource, err), u.Close())
		}
		u.data = make([]byte, size)
	}
	return u, nil
}

// remap grows the backing file to size bytes and maps it again.
func (u *Unit) remap(size int) error {
	if u.mapped {
		if err := platform.Unmap(u.data); err != nil {
			return fmt.Errorf("unmap scratch: %w", err)
		}
		u.data = nil
		u.mapped = false
	}
	if err := u.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("resize scratch: %w", err)
	}
	data, err := platform.Map(u.f, size, true)
	if err != nil {
		return err
	}
	u.data = data
	u.mapped = true
	return nil
}

// Reserve guarantees room for n more bytes, doubling the mapping as needed.
func (u *Unit) Reserve(n uint64) error {
	if u.finalized || u.closed {
		return fmt.Errorf("scratch: %w", ziptype.ErrFinished)
	}
	need, ok := sizing.AddUint64(u.pos, n)
	if !ok {
		return ziptype.ErrSizeOverflow
	}
	if need <= uint64(len(u.data)) {
		return nil
	}
	size := uint64(max(len(u.data), 1))
	for size < need {
		size *= 2
	}
	newSize, err := sizing.ToInt(size, ziptype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	if !u.mapped {
		grown := make([]byte, newSize)
		copy(grown, u.data[:u.pos])
		u.data = grown
		return nil
	}
	if err := u.remap(newSize); err != nil {
		return fmt.Errorf("%w: %v", ziptype.ErrResource, err)
	}
	return nil
}

// Write appends p at the current position, growing the unit as needed.
func (u *Unit) Write(p []byte) (int, error) {
	if err := u.Reserve(uint64(len(p))); err != nil {
		return 0, err
	}
	n := copy(u.data[u.pos:], p)
	u.pos += uint64(n) //nolint:gosec // n is non-negative
	return n, nil
}

// Pos returns the current write position.
func (u *Unit) Pos() uint64 {
	return u.pos
}

// Rewind moves the write position back to pos, discarding later bytes.
func (u *Unit) Rewind(pos uint64) {
	if pos < u.pos {
		u.pos = pos
	}
}

// Append records an item already written at [item.Offset, item.Offset+item.CompressedSize).
func (u *Unit) Append(item Item) {
	u.items = append(u.items, item)
}

// Items returns the recorded items in write order.
func (u *Unit) Items() []Item {
	return u.items
}

// Len returns the number of recorded items.
func (u *Unit) Len() int {
	return len(u.items)
}

// Finalize flips the unit to read-only. No further writes are accepted.
func (u *Unit) Finalize() error {
	if u.finalized {
		return nil
	}
	u.finalized = true
	if u.mapped {
		return platform.ReadOnly(u.data)
	}
	return nil
}

// Bytes returns the encoded bytes of item. The slice aliases the mapping and
// is only valid until Close.
func (u *Unit) Bytes(item Item) []byte {
	return u.data[item.Offset : item.Offset+item.CompressedSize]
}

// Close unmaps, closes and removes the scratch file. Removal that is denied
// is deferred to the next sweep. Close is idempotent.
func (u *Unit) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	var errs []error
	if u.mapped {
		errs = append(errs, platform.Unmap(u.data))
		u.mapped = false
	}
	u.data = nil
	u.items = nil
	if u.f != nil {
		name := u.f.Name()
		errs = append(errs, u.f.Close())
		errs = append(errs, platform.RemoveOrDefer(name))
	}
	return errors.Join(errs...)
}

// Path returns the scratch file path.
func (u *Unit) Path() string {
	return u.f.Name()
}

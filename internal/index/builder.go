package index

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"slices"

	"github.com/meigma/ixzip/internal/ziptype"
)

// DirSize is the Size of a synthetic directory entry that has no data.
const DirSize int32 = -1

const (
	recordSize  = 8 + 8 + 4
	headerSize  = 4
	countsSize  = 4 + 4
	nameLenSize = 2

	// defaultChunkSize bounds the working buffer used while writing.
	defaultChunkSize = 32 << 10
)

// Entry locates one entry's data inside the archive.
type Entry struct {
	// Key is the hash of the entry name.
	Key uint64

	// Offset is the byte offset of the entry data (after its local header).
	Offset uint64

	// Size is the number of stored bytes at Offset, or DirSize.
	Size int32
}

// NewEntry returns an Entry for data at offset.
func NewEntry(offset uint64, size int32, key uint64) Entry {
	return Entry{Key: key, Offset: offset, Size: size}
}

// IsDir reports whether e is a synthetic directory marker.
func (e Entry) IsDir() bool {
	return e.Size == DirSize
}

// Builder accumulates index entries and package hashes for one archive.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	entries          []Entry
	names            []string
	classPackages    map[uint64]struct{}
	resourcePackages map[uint64]struct{}
	chunkSize        int
	crc              uint32
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithChunkSize sets the working buffer size used by WriteTo.
// Values below the size of one record are raised to it.
func WithChunkSize(n int) BuilderOption {
	return func(b *Builder) {
		b.chunkSize = max(n, recordSize)
	}
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		classPackages:    make(map[uint64]struct{}),
		resourcePackages: make(map[uint64]struct{}),
		chunkSize:        defaultChunkSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add records e under name.
func (b *Builder) Add(e Entry, name string) {
	b.entries = append(b.entries, e)
	b.names = append(b.names, name)
}

// AddClassPackage records the hash of a package containing classes.
func (b *Builder) AddClassPackage(h uint64) {
	b.classPackages[h] = struct{}{}
}

// AddResourcePackage records the hash of a package containing resources.
func (b *Builder) AddResourcePackage(h uint64) {
	b.resourcePackages[h] = struct{}{}
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// CRC32 returns the CRC-32 of the bytes emitted by the last WriteTo call.
func (b *Builder) CRC32() uint32 {
	return b.crc
}

// WriteTo serializes the index to w and returns the number of bytes written.
//
// Entries are emitted sorted by Key together with their names; package hash
// sets are emitted sorted and deduplicated. The CRC-32 of the output is
// available from CRC32 afterwards.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	if len(b.entries) > math.MaxUint32 {
		return 0, fmt.Errorf("index: %d entries: %w", len(b.entries), ziptype.ErrSizeOverflow)
	}
	for _, name := range b.names {
		if len(name) > math.MaxUint16 {
			return 0, fmt.Errorf("index: name too long (%d bytes): %w", len(name), ziptype.ErrSizeOverflow)
		}
	}

	order := make([]int, len(b.entries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(x, y int) int {
		return cmp.Compare(b.entries[x].Key, b.entries[y].Key)
	})

	cw := &chunkWriter{w: w, buf: make([]byte, 0, b.chunkSize)}

	cw.putUint32(uint32(len(b.entries))) //nolint:gosec // checked above
	for _, i := range order {
		e := b.entries[i]
		cw.reserve(recordSize)
		cw.buf = binary.LittleEndian.AppendUint64(cw.buf, e.Key)
		cw.buf = binary.LittleEndian.AppendUint64(cw.buf, e.Offset)
		cw.buf = binary.LittleEndian.AppendUint32(cw.buf, uint32(e.Size)) //nolint:gosec // -1 is encoded as all ones
	}

	classes := sortedKeys(b.classPackages)
	resources := sortedKeys(b.resourcePackages)
	cw.putUint32(uint32(len(classes)))   //nolint:gosec // bounded by entry count in practice
	cw.putUint32(uint32(len(resources))) //nolint:gosec // bounded by entry count in practice
	for _, h := range classes {
		cw.putUint64(h)
	}
	for _, h := range resources {
		cw.putUint64(h)
	}

	for _, i := range order {
		cw.reserve(nameLenSize)
		cw.buf = binary.LittleEndian.AppendUint16(cw.buf, uint16(len(b.names[i]))) //nolint:gosec // checked above
	}
	for _, i := range order {
		cw.writeString(b.names[i])
	}

	cw.flush()
	b.crc = cw.crc
	return cw.n, cw.err
}

func sortedKeys(set map[uint64]struct{}) []uint64 {
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// chunkWriter batches small appends into a bounded buffer and keeps a running
// CRC-32 of everything flushed. The first error is sticky.
type chunkWriter struct {
	w   io.Writer
	buf []byte
	crc uint32
	n   int64
	err error
}

func (c *chunkWriter) reserve(n int) {
	if len(c.buf)+n > cap(c.buf) {
		c.flush()
	}
}

func (c *chunkWriter) putUint32(v uint32) {
	c.reserve(4)
	c.buf = binary.LittleEndian.AppendUint32(c.buf, v)
}

func (c *chunkWriter) putUint64(v uint64) {
	c.reserve(8)
	c.buf = binary.LittleEndian.AppendUint64(c.buf, v)
}

func (c *chunkWriter) writeString(s string) {
	for len(s) > 0 {
		if len(c.buf) == cap(c.buf) {
			c.flush()
		}
		n := min(len(s), cap(c.buf)-len(c.buf))
		c.buf = append(c.buf, s[:n]...)
		s = s[n:]
	}
}

func (c *chunkWriter) flush() {
	if len(c.buf) == 0 {
		return
	}
	if c.err == nil {
		c.crc = crc32.Update(c.crc, crc32.IEEETable, c.buf)
		n, err := c.w.Write(c.buf)
		c.n += int64(n)
		if err == nil && n != len(c.buf) {
			err = io.ErrShortWrite
		}
		c.err = err
	}
	c.buf = c.buf[:0]
}

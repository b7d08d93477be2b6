package index

import (
	"encoding/binary"
	"fmt"
	"iter"
	"sort"

	"github.com/meigma/ixzip/internal/ziptype"
)

// Index provides read access to a serialized index blob.
//
// The provided data is retained by the index; callers must not modify it
// after calling Load.
type Index struct {
	records   []byte
	classes   []byte
	resources []byte
	nameLens  []byte
	names     []byte
	nameOffs  []int
}

// Load parses an index blob produced by Builder.WriteTo.
func Load(data []byte) (*Index, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("index: truncated header: %w", ziptype.ErrFormat)
	}
	count := uint64(binary.LittleEndian.Uint32(data))
	rest := data[headerSize:]

	recordsLen := count * recordSize
	if uint64(len(rest)) < recordsLen+countsSize {
		return nil, fmt.Errorf("index: truncated entries: %w", ziptype.ErrFormat)
	}
	idx := &Index{records: rest[:recordsLen]}
	rest = rest[recordsLen:]

	classCount := uint64(binary.LittleEndian.Uint32(rest))
	resourceCount := uint64(binary.LittleEndian.Uint32(rest[4:]))
	rest = rest[countsSize:]
	if uint64(len(rest)) < (classCount+resourceCount)*8+count*nameLenSize {
		return nil, fmt.Errorf("index: truncated package tables: %w", ziptype.ErrFormat)
	}
	idx.classes = rest[:classCount*8]
	rest = rest[classCount*8:]
	idx.resources = rest[:resourceCount*8]
	rest = rest[resourceCount*8:]
	idx.nameLens = rest[:count*nameLenSize]
	idx.names = rest[count*nameLenSize:]

	idx.nameOffs = make([]int, count+1)
	total := uint64(len(idx.names))
	var off uint64
	for i := range count {
		off += uint64(binary.LittleEndian.Uint16(idx.nameLens[i*nameLenSize:]))
		if off > total {
			return nil, fmt.Errorf("index: name %d ends past the %d-byte name table: %w", i, total, ziptype.ErrFormat)
		}
		idx.nameOffs[i+1] = int(off) //nolint:gosec // bounded by len(idx.names)
	}
	if off != total {
		return nil, fmt.Errorf("index: name table holds %d bytes, lengths sum to %d: %w", len(idx.names), off, ziptype.ErrFormat)
	}
	return idx, nil
}

// Len returns the number of entries in the index.
func (idx *Index) Len() int {
	return len(idx.records) / recordSize
}

// Entry returns the i-th entry in key order.
func (idx *Index) Entry(i int) Entry {
	rec := idx.records[i*recordSize:]
	return Entry{
		Key:    binary.LittleEndian.Uint64(rec),
		Offset: binary.LittleEndian.Uint64(rec[8:]),
		Size:   int32(binary.LittleEndian.Uint32(rec[16:])), //nolint:gosec // all ones decodes to DirSize
	}
}

// Name returns the name stored for the i-th entry.
func (idx *Index) Name(i int) string {
	return string(idx.names[idx.nameOffs[i]:idx.nameOffs[i+1]])
}

// Lookup binary searches the index for key.
// With colliding keys the first entry in index order is returned.
func (idx *Index) Lookup(key uint64) (Entry, bool) {
	n := idx.Len()
	i := sort.Search(n, func(i int) bool {
		return binary.LittleEndian.Uint64(idx.records[i*recordSize:]) >= key
	})
	if i == n {
		return Entry{}, false
	}
	e := idx.Entry(i)
	if e.Key != key {
		return Entry{}, false
	}
	return e, true
}

// LookupName looks up the entry stored under name.
// Directory names are looked up without their trailing slash.
func (idx *Index) LookupName(name string) (Entry, bool) {
	return idx.Lookup(HashString(name))
}

// HasClassPackage reports whether the package directory pkg contains classes.
func (idx *Index) HasClassPackage(pkg string) bool {
	var key uint64
	if pkg != "" {
		key = HashString(pkg)
	}
	return containsHash(idx.classes, key)
}

// HasResourcePackage reports whether the package directory pkg contains resources.
func (idx *Index) HasResourcePackage(pkg string) bool {
	return containsHash(idx.resources, HashString(pkg))
}

// All returns an iterator over (name, entry) pairs in key order.
func (idx *Index) All() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for i := range idx.Len() {
			if !yield(idx.Name(i), idx.Entry(i)) {
				return
			}
		}
	}
}

func containsHash(table []byte, key uint64) bool {
	n := len(table) / 8
	i := sort.Search(n, func(i int) bool {
		return binary.LittleEndian.Uint64(table[i*8:]) >= key
	})
	return i < n && binary.LittleEndian.Uint64(table[i*8:]) == key
}

// Package zipread reads ZIP archives from a memory-mapped file or an
// in-memory buffer and hands out lazily decoded entry contents.
package zipread

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/ixzip/internal/file"
	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/sizing"
	"github.com/meigma/ixzip/internal/zipfmt"
	"github.com/meigma/ixzip/internal/ziptype"
)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger for reader diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMaxDecoderMemory limits the memory a zstd decoder may allocate.
// Zero means no limit.
func WithMaxDecoderMemory(n uint64) Option {
	return func(r *Reader) {
		r.maxDecoderMemory = n
	}
}

// Reader provides access to the entries of one archive.
//
// Entry contents may be read concurrently. Close must not race with reads.
type Reader struct {
	data   []byte
	mapped bool

	entries    []*Entry
	byName     map[string]*Entry
	indexEntry *Entry

	indexOffset uint64
	hasIndex    bool

	pool             *file.DecompressPool
	flight           singleflight.Group
	maxDecoderMemory uint64
	logger           *slog.Logger
}

// Open maps the archive at path. When mapping is unavailable the file is
// read into memory instead.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size, err := sizing.ToInt(uint64(max(info.Size(), 0)), ziptype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if size < zipfmt.EOCDLen {
		return nil, fmt.Errorf("%w: %s is too short", ziptype.ErrFormat, path)
	}

	data, mapErr := platform.Map(f, size, false)
	mapped := mapErr == nil
	if !mapped {
		data = make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	r, err := newReader(data, mapped, opts)
	if err != nil {
		if mapped {
			platform.Unmap(data) //nolint:errcheck // best-effort cleanup
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !mapped && !errors.Is(mapErr, platform.ErrMapUnsupported) {
		r.log().Debug("mapping failed, archive read into memory", "path", path, "error", mapErr)
	}
	return r, nil
}

// NewReader reads an archive held in data. The Reader aliases data.
func NewReader(data []byte, opts ...Option) (*Reader, error) {
	return newReader(data, false, opts)
}

func newReader(data []byte, mapped bool, opts []Option) (*Reader, error) {
	r := &Reader{data: data, mapped: mapped}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = file.NewDecompressPool(r.maxDecoderMemory)
	if err := r.parse(); err != nil {
		return nil, err
	}
	r.log().Debug("opened archive", "entries", len(r.entries), "bytes", len(data), "mapped", mapped, "index", r.hasIndex)
	return r, nil
}

func (r *Reader) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.New(slog.DiscardHandler)
}

// findEOCD searches backward for the classic end record. The comment may be
// up to 65535 bytes long, which bounds the search window.
func findEOCD(data []byte) (int, error) {
	last := len(data) - zipfmt.EOCDLen
	first := max(0, last-zipfmt.MaxCommentLen)
	for pos := last; pos >= first; pos-- {
		if binary.LittleEndian.Uint32(data[pos:]) != zipfmt.SigEOCD {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(data[pos+20:]))
		if pos+zipfmt.EOCDLen+commentLen <= len(data) {
			return pos, nil
		}
	}
	return 0, fmt.Errorf("%w: end of central directory not found", ziptype.ErrFormat)
}

func (r *Reader) parse() error {
	if len(r.data) < zipfmt.EOCDLen {
		return fmt.Errorf("%w: archive too short", ziptype.ErrFormat)
	}
	eocdPos, err := findEOCD(r.data)
	if err != nil {
		return err
	}
	eocd, err := zipfmt.ParseEOCD(r.data[eocdPos:])
	if err != nil {
		return err
	}
	count, cdSize, cdOffset := uint64(eocd.Entries), uint64(eocd.CDSize), uint64(eocd.CDOffset)

	locatorPos := eocdPos - zipfmt.LocatorLen
	if off, ok := r.locator(locatorPos); ok {
		if off > uint64(locatorPos) {
			return fmt.Errorf("%w: zip64 end record offset %d out of range", ziptype.ErrFormat, off)
		}
		e64, err := zipfmt.ParseEOCD64(r.data[off:])
		if err != nil {
			return err
		}
		count, cdSize, cdOffset = e64.Entries, e64.CDSize, e64.CDOffset
	} else if eocd.Sentinel() {
		return fmt.Errorf("%w: zip64 end record locator missing", ziptype.ErrFormat)
	}

	if off, ok := zipfmt.ParseIndexComment(eocd.Comment); ok {
		r.indexOffset, r.hasIndex = off, true
	}

	end, ok := sizing.AddUint64(cdOffset, cdSize)
	if !ok || end > uint64(eocdPos) {
		return fmt.Errorf("%w: central directory [%d, +%d) out of range", ziptype.ErrFormat, cdOffset, cdSize)
	}
	return r.parseCentral(r.data[cdOffset:end], count)
}

func (r *Reader) locator(pos int) (uint64, bool) {
	if pos < 0 {
		return 0, false
	}
	return zipfmt.ParseLocator(r.data[pos:])
}

func (r *Reader) parseCentral(cd []byte, count uint64) error {
	n, err := sizing.ToInt(count, ziptype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	// Each record is at least CentralLen bytes; cap the preallocation by
	// what the directory can actually hold.
	r.entries = make([]*Entry, 0, min(n, len(cd)/zipfmt.CentralLen))
	r.byName = make(map[string]*Entry, cap(r.entries))

	var parsed uint64
	for len(cd) > 0 {
		rec, err := zipfmt.ParseCentral(cd)
		if err != nil {
			return fmt.Errorf("central record %d: %w", parsed, err)
		}
		cd = cd[rec.Len:]
		parsed++

		e, err := r.newEntry(rec)
		if err != nil {
			return err
		}
		if rec.Name == ziptype.IndexEntryName {
			r.indexEntry = e
			continue
		}
		r.entries = append(r.entries, e)
		if _, dup := r.byName[e.Name]; !dup {
			r.byName[e.Name] = e
		}
	}
	if parsed != count {
		return fmt.Errorf("%w: central directory holds %d records, end record says %d", ziptype.ErrFormat, parsed, count)
	}
	return nil
}

func (r *Reader) newEntry(rec zipfmt.CentralRecord) (*Entry, error) {
	if rec.HeaderOffset >= uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: %s: header offset %d out of range", ziptype.ErrFormat, rec.Name, rec.HeaderOffset)
	}
	dataOffset, err := zipfmt.LocalDataOffset(r.data[rec.HeaderOffset:], rec.HeaderOffset)
	if err != nil {
		return nil, err
	}
	end, ok := sizing.AddUint64(dataOffset, rec.CompressedSize)
	if !ok || end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: %s: data extends past end of archive", ziptype.ErrFormat, rec.Name)
	}
	return &Entry{
		r:              r,
		Name:           rec.Name,
		Method:         rec.Method,
		CRC32:          rec.CRC32,
		CompressedSize: rec.CompressedSize,
		Size:           rec.Size,
		HeaderOffset:   rec.HeaderOffset,
		DataOffset:     dataOffset,
		Mode:           zipfmt.FileMode(rec.ExternalAttrs >> 16),
	}, nil
}

// Entries returns the entries in central directory order, excluding the
// index entry.
func (r *Reader) Entries() []*Entry {
	return r.entries
}

// Len returns the number of entries, excluding the index entry.
func (r *Reader) Len() int {
	return len(r.entries)
}

// Lookup returns the first entry named name.
func (r *Reader) Lookup(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// ForEach calls fn for every entry in central directory order and stops at
// the first error.
func (r *Reader) ForEach(fn func(name string, src ByteSource) error) error {
	for _, e := range r.entries {
		if err := fn(e.Name, e); err != nil {
			return err
		}
	}
	return nil
}

// IndexOffset returns the index entry's local header offset recorded in the
// archive comment. ok is false when the archive carries no index comment.
func (r *Reader) IndexOffset() (offset uint64, ok bool) {
	return r.indexOffset, r.hasIndex
}

// Index loads the archive's hash index. The Index aliases the archive.
func (r *Reader) Index() (*index.Index, error) {
	data, err := r.IndexData()
	if err != nil {
		return nil, err
	}
	return index.Load(data)
}

// IndexData returns the verified content of the index entry.
func (r *Reader) IndexData() ([]byte, error) {
	if r.indexEntry == nil {
		return nil, fmt.Errorf("%w: archive has no %s entry", fs.ErrNotExist, ziptype.IndexEntryName)
	}
	if r.hasIndex && r.indexEntry.HeaderOffset != r.indexOffset {
		return nil, fmt.Errorf("%w: index comment points at %d, entry is at %d",
			ziptype.ErrFormat, r.indexOffset, r.indexEntry.HeaderOffset)
	}
	return r.indexEntry.Bytes()
}

// Slice returns size raw archive bytes at off. The slice aliases the archive.
func (r *Reader) Slice(off, size uint64) ([]byte, error) {
	if r.data == nil {
		return nil, fs.ErrClosed
	}
	end, ok := sizing.AddUint64(off, size)
	if !ok || end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: range [%d, +%d) out of bounds", ziptype.ErrFormat, off, size)
	}
	return r.data[off:end:end], nil
}

// Close releases the mapping. Slices obtained from stored entries must not
// be used afterwards.
func (r *Reader) Close() error {
	data := r.data
	r.data = nil
	if r.mapped {
		r.mapped = false
		return platform.Unmap(data)
	}
	return nil
}

package zipread

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/meigma/ixzip/internal/file"
	"github.com/meigma/ixzip/internal/sizing"
	"github.com/meigma/ixzip/internal/ziptype"
)

// ByteSource supplies an entry's content on demand.
type ByteSource interface {
	// Bytes returns the whole decoded content. The slice must not be modified.
	Bytes() ([]byte, error)

	// Open streams the decoded content. The checksum is verified at EOF.
	Open() (io.ReadCloser, error)

	// Len returns the decoded size.
	Len() uint64
}

// Entry is one central directory record.
type Entry struct {
	r *Reader

	Name           string
	Method         ziptype.Method
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	HeaderOffset   uint64
	DataOffset     uint64
	Mode           fs.FileMode

	verified atomic.Bool
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/'
}

// Len returns the decoded size.
func (e *Entry) Len() uint64 {
	return e.Size
}

// Raw returns the stored bytes of the entry without decoding them.
func (e *Entry) Raw() ([]byte, error) {
	return e.r.Slice(e.DataOffset, e.CompressedSize)
}

// Upper bounds on decoded bytes per stored byte. A deflate stream expands
// at most 1032 times; a zstd RLE block turns 4 bytes into 128 KiB.
var maxExpansion = map[ziptype.Method]uint64{
	ziptype.MethodDeflate: 1032,
	ziptype.MethodZstd:    1 << 15,
}

const (
	// expansionSlack covers stream framing on very small entries.
	expansionSlack = 128 << 10

	initialDecodeBuffer = 1 << 20
)

// Bytes returns the decoded content.
//
// Stored entries are returned without copying; the slice aliases the
// archive and is valid until the Reader is closed. Compressed entries are
// decoded into a new slice, and concurrent first reads of the same entry
// share one decode.
func (e *Entry) Bytes() ([]byte, error) {
	raw, err := e.Raw()
	if err != nil {
		return nil, err
	}
	if e.Method == ziptype.MethodStored {
		if err := e.verifyStored(raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	key := strconv.FormatUint(e.HeaderOffset, 10)
	v, err, _ := e.r.flight.Do(key, func() (any, error) {
		return e.decode(raw)
	})
	if err != nil {
		return nil, err
	}
	content, _ := v.([]byte) //nolint:errcheck // decode always returns []byte
	return content, nil
}

func (e *Entry) verifyStored(raw []byte) error {
	if e.verified.Load() {
		return nil
	}
	if uint64(len(raw)) != e.Size {
		return fmt.Errorf("%s: stored size %d, header says %d: %w", e.Name, len(raw), e.Size, ziptype.ErrFormat)
	}
	if crc32.ChecksumIEEE(raw) != e.CRC32 {
		return fmt.Errorf("%s: %w", e.Name, ziptype.ErrChecksum)
	}
	e.verified.Store(true)
	return nil
}

func (e *Entry) decode(raw []byte) ([]byte, error) {
	size, err := e.checkExpansion()
	if err != nil {
		return nil, err
	}
	dec, release, err := e.r.pool.Get(e.Method, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	defer release()

	buf := file.GetBuffer()
	defer buf.Release()
	buf.Grow(min(size, initialDecodeBuffer))
	if _, err := buf.ReadFrom(io.LimitReader(dec, int64(size))); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", e.Name, ziptype.ErrDecompression, err)
	}
	if buf.Len() != size {
		return nil, fmt.Errorf("%s: %w: %d of %d bytes", e.Name, ziptype.ErrDecompression, buf.Len(), size)
	}
	if err := ensureNoExtra(dec); err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	if crc32.ChecksumIEEE(buf.Bytes()) != e.CRC32 {
		return nil, fmt.Errorf("%s: %w", e.Name, ziptype.ErrChecksum)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// checkExpansion rejects declared sizes the method cannot produce from the
// stored bytes and returns the size as an int.
func (e *Entry) checkExpansion() (int, error) {
	ratio, ok := maxExpansion[e.Method]
	if ok {
		limit := uint64(math.MaxUint64)
		if e.CompressedSize <= (math.MaxUint64-expansionSlack)/ratio {
			limit = e.CompressedSize*ratio + expansionSlack
		}
		if e.Size > limit {
			return 0, fmt.Errorf("%s: %d bytes cannot decode from %d stored bytes: %w",
				e.Name, e.Size, e.CompressedSize, ziptype.ErrFormat)
		}
	}
	size, err := sizing.ToInt(e.Size, ziptype.ErrSizeOverflow)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Name, err)
	}
	return size, nil
}

// ensureNoExtra fails when r still yields data after the declared size.
func ensureNoExtra(r io.Reader) error {
	var extra [1]byte
	n, err := r.Read(extra[:])
	if n > 0 {
		return fmt.Errorf("%w: content exceeds declared size", ziptype.ErrDecompression)
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", ziptype.ErrDecompression, err)
}

// Open returns a streaming reader over the decoded content.
func (e *Entry) Open() (io.ReadCloser, error) {
	raw, err := e.Raw()
	if err != nil {
		return nil, err
	}
	if _, err := e.checkExpansion(); err != nil {
		return nil, err
	}
	dec, release, err := e.r.pool.Get(e.Method, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	return &verifyReader{
		e:       e,
		r:       io.LimitReader(dec, int64(min(e.Size, uint64(1<<63-1)))), //nolint:gosec // clamped
		release: release,
		crc:     crc32.NewIEEE(),
	}, nil
}

// verifyReader checks size and checksum once the content is exhausted.
type verifyReader struct {
	e       *Entry
	r       io.Reader
	release func()
	crc     hash.Hash32
	n       uint64
}

func (v *verifyReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.crc.Write(p[:n]) //nolint:errcheck // hash writes never fail
	v.n += uint64(n)   //nolint:gosec // n is non-negative
	if errors.Is(err, io.EOF) {
		if v.n != v.e.Size {
			return n, fmt.Errorf("%s: %w: %d of %d bytes", v.e.Name, ziptype.ErrDecompression, v.n, v.e.Size)
		}
		if v.crc.Sum32() != v.e.CRC32 {
			return n, fmt.Errorf("%s: %w", v.e.Name, ziptype.ErrChecksum)
		}
	} else if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%s: %w: %v", v.e.Name, ziptype.ErrDecompression, err)
	}
	return n, err
}

// Close releases the decoder. Close is idempotent.
func (v *verifyReader) Close() error {
	if v.release != nil {
		v.release()
		v.release = nil
	}
	return nil
}

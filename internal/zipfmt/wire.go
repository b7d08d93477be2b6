package zipfmt

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"

	"github.com/meigma/ixzip/internal/sizing"
	"github.com/meigma/ixzip/internal/ziptype"
)

// Record signatures.
const (
	SigLocal   = 0x04034b50
	SigCentral = 0x02014b50
	SigEOCD    = 0x06054b50
	SigEOCD64  = 0x06064b50
	SigLocator = 0x07064b50
)

// Fixed record lengths, excluding variable-length trailers.
const (
	LocalLen   = 30
	CentralLen = 46
	EOCDLen    = 22
	EOCD64Len  = 56
	LocatorLen = 20

	// MaxCommentLen bounds the backward search for the end record.
	MaxCommentLen = math.MaxUint16
)

const (
	flagUTF8      = 0x0800
	versionNeeded = 20
	versionZip64  = 45
	madeByUnix    = 3 << 8

	zip64ExtraID = 0x0001

	// MaxEntries is the largest entry count the classic end record can hold
	// without the ZIP64 sentinel.
	MaxEntries = math.MaxUint16

	// IndexFormatVersion is the first byte of the archive comment when an
	// index is present.
	IndexFormatVersion = 4

	indexCommentLen = 5
)

const (
	unixTypeDir  = 0o040000
	unixTypeFile = 0o100000
)

// NeedsZip64 reports whether meta needs a ZIP64 extra field in its central record.
func NeedsZip64(meta *ziptype.EntryMeta) bool {
	return !sizing.Fits32(meta.Size) || !sizing.Fits32(meta.CompressedSize) || !sizing.Fits32(meta.HeaderOffset)
}

// LocalSize returns the encoded length of a local header for name.
func LocalSize(name string, zip64 bool) int {
	n := LocalLen + len(name)
	if zip64 {
		n += 4 + 16
	}
	return n
}

// AppendLocal appends the local file header for meta to dst.
//
// With zip64 set the sizes are saturated and carried in a ZIP64 extra field,
// which keeps the header length independent of the final sizes so a reserved
// header can be patched in place.
func AppendLocal(dst []byte, meta *ziptype.EntryMeta, zip64 bool) []byte {
	version := uint16(versionNeeded)
	csize, usize := sizing.Clamp32(meta.CompressedSize), sizing.Clamp32(meta.Size)
	var extraLen uint16
	if zip64 {
		version = versionZip64
		csize, usize = math.MaxUint32, math.MaxUint32
		extraLen = 4 + 16
	}
	dst = binary.LittleEndian.AppendUint32(dst, SigLocal)
	dst = binary.LittleEndian.AppendUint16(dst, version)
	dst = binary.LittleEndian.AppendUint16(dst, flagUTF8)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(meta.Method))
	dst = binary.LittleEndian.AppendUint16(dst, 0) // time
	dst = binary.LittleEndian.AppendUint16(dst, 0) // date
	dst = binary.LittleEndian.AppendUint32(dst, meta.CRC32)
	dst = binary.LittleEndian.AppendUint32(dst, csize)
	dst = binary.LittleEndian.AppendUint32(dst, usize)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(meta.Name))) //nolint:gosec // name length validated by caller
	dst = binary.LittleEndian.AppendUint16(dst, extraLen)
	dst = append(dst, meta.Name...)
	if zip64 {
		dst = binary.LittleEndian.AppendUint16(dst, zip64ExtraID)
		dst = binary.LittleEndian.AppendUint16(dst, 16)
		dst = binary.LittleEndian.AppendUint64(dst, meta.Size)
		dst = binary.LittleEndian.AppendUint64(dst, meta.CompressedSize)
	}
	return dst
}

// AppendCentral appends the central directory record for meta to dst.
func AppendCentral(dst []byte, meta *ziptype.EntryMeta) []byte {
	var extra []byte
	version := uint16(versionNeeded)
	if NeedsZip64(meta) {
		version = versionZip64
		extra = binary.LittleEndian.AppendUint16(extra, zip64ExtraID)
		extra = binary.LittleEndian.AppendUint16(extra, 0) // patched below
		if !sizing.Fits32(meta.Size) {
			extra = binary.LittleEndian.AppendUint64(extra, meta.Size)
		}
		if !sizing.Fits32(meta.CompressedSize) {
			extra = binary.LittleEndian.AppendUint64(extra, meta.CompressedSize)
		}
		if !sizing.Fits32(meta.HeaderOffset) {
			extra = binary.LittleEndian.AppendUint64(extra, meta.HeaderOffset)
		}
		binary.LittleEndian.PutUint16(extra[2:], uint16(len(extra)-4)) //nolint:gosec // at most 24
	}

	dst = binary.LittleEndian.AppendUint32(dst, SigCentral)
	dst = binary.LittleEndian.AppendUint16(dst, madeByUnix|versionZip64)
	dst = binary.LittleEndian.AppendUint16(dst, version)
	dst = binary.LittleEndian.AppendUint16(dst, flagUTF8)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(meta.Method))
	dst = binary.LittleEndian.AppendUint16(dst, 0) // time
	dst = binary.LittleEndian.AppendUint16(dst, 0) // date
	dst = binary.LittleEndian.AppendUint32(dst, meta.CRC32)
	dst = binary.LittleEndian.AppendUint32(dst, sizing.Clamp32(meta.CompressedSize))
	dst = binary.LittleEndian.AppendUint32(dst, sizing.Clamp32(meta.Size))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(meta.Name))) //nolint:gosec // name length validated by caller
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(extra)))     //nolint:gosec // at most 28
	dst = binary.LittleEndian.AppendUint16(dst, 0)                      // comment
	dst = binary.LittleEndian.AppendUint16(dst, 0)                      // disk start
	dst = binary.LittleEndian.AppendUint16(dst, 0)                      // internal attrs
	dst = binary.LittleEndian.AppendUint32(dst, UnixMode(meta.UnixMode())<<16)
	dst = binary.LittleEndian.AppendUint32(dst, sizing.Clamp32(meta.HeaderOffset))
	dst = append(dst, meta.Name...)
	return append(dst, extra...)
}

// UnixMode converts m to Unix st_mode bits.
func UnixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m.IsDir() {
		return mode | unixTypeDir
	}
	return mode | unixTypeFile
}

// FileMode converts Unix st_mode bits to an fs.FileMode.
func FileMode(unix uint32) fs.FileMode {
	mode := fs.FileMode(unix & 0o777)
	if unix&0o170000 == unixTypeDir {
		mode |= fs.ModeDir
	}
	return mode
}

// EOCD is the classic end-of-central-directory record.
type EOCD struct {
	Entries  uint16
	CDSize   uint32
	CDOffset uint32
	Comment  []byte
}

// AppendEOCD appends e to dst.
func AppendEOCD(dst []byte, e EOCD) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, SigEOCD)
	dst = binary.LittleEndian.AppendUint16(dst, 0) // this disk
	dst = binary.LittleEndian.AppendUint16(dst, 0) // directory disk
	dst = binary.LittleEndian.AppendUint16(dst, e.Entries)
	dst = binary.LittleEndian.AppendUint16(dst, e.Entries)
	dst = binary.LittleEndian.AppendUint32(dst, e.CDSize)
	dst = binary.LittleEndian.AppendUint32(dst, e.CDOffset)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(e.Comment))) //nolint:gosec // comment is at most 5 bytes
	return append(dst, e.Comment...)
}

// ParseEOCD decodes the classic end record starting at b[0].
func ParseEOCD(b []byte) (EOCD, error) {
	if len(b) < EOCDLen || binary.LittleEndian.Uint32(b) != SigEOCD {
		return EOCD{}, fmt.Errorf("%w: bad end record signature", ziptype.ErrFormat)
	}
	e := EOCD{
		Entries:  binary.LittleEndian.Uint16(b[10:]),
		CDSize:   binary.LittleEndian.Uint32(b[12:]),
		CDOffset: binary.LittleEndian.Uint32(b[16:]),
	}
	commentLen := int(binary.LittleEndian.Uint16(b[20:]))
	if len(b) < EOCDLen+commentLen {
		return EOCD{}, fmt.Errorf("%w: truncated archive comment", ziptype.ErrFormat)
	}
	e.Comment = b[EOCDLen : EOCDLen+commentLen]
	return e, nil
}

// Sentinel reports whether any field of e is saturated, meaning the real
// values live in the ZIP64 end record.
func (e EOCD) Sentinel() bool {
	return e.Entries == math.MaxUint16 || e.CDSize == math.MaxUint32 || e.CDOffset == math.MaxUint32
}

// EOCD64 is the ZIP64 end-of-central-directory record.
type EOCD64 struct {
	Entries  uint64
	CDSize   uint64
	CDOffset uint64
}

// AppendEOCD64 appends e to dst.
func AppendEOCD64(dst []byte, e EOCD64) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, SigEOCD64)
	dst = binary.LittleEndian.AppendUint64(dst, EOCD64Len-12)
	dst = binary.LittleEndian.AppendUint16(dst, madeByUnix|versionZip64)
	dst = binary.LittleEndian.AppendUint16(dst, versionZip64)
	dst = binary.LittleEndian.AppendUint32(dst, 0) // this disk
	dst = binary.LittleEndian.AppendUint32(dst, 0) // directory disk
	dst = binary.LittleEndian.AppendUint64(dst, e.Entries)
	dst = binary.LittleEndian.AppendUint64(dst, e.Entries)
	dst = binary.LittleEndian.AppendUint64(dst, e.CDSize)
	return binary.LittleEndian.AppendUint64(dst, e.CDOffset)
}

// ParseEOCD64 decodes the ZIP64 end record starting at b[0].
func ParseEOCD64(b []byte) (EOCD64, error) {
	if len(b) < EOCD64Len || binary.LittleEndian.Uint32(b) != SigEOCD64 {
		return EOCD64{}, fmt.Errorf("%w: bad zip64 end record signature", ziptype.ErrFormat)
	}
	return EOCD64{
		Entries:  binary.LittleEndian.Uint64(b[32:]),
		CDSize:   binary.LittleEndian.Uint64(b[40:]),
		CDOffset: binary.LittleEndian.Uint64(b[48:]),
	}, nil
}

// AppendLocator appends a ZIP64 end record locator pointing at offset.
func AppendLocator(dst []byte, offset uint64) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, SigLocator)
	dst = binary.LittleEndian.AppendUint32(dst, 0) // disk with the zip64 end record
	dst = binary.LittleEndian.AppendUint64(dst, offset)
	return binary.LittleEndian.AppendUint32(dst, 1) // total disks
}

// ParseLocator decodes a locator at b[0] and returns the ZIP64 end record
// offset. ok is false when b does not start with a locator.
func ParseLocator(b []byte) (offset uint64, ok bool) {
	if len(b) < LocatorLen || binary.LittleEndian.Uint32(b) != SigLocator {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[8:]), true
}

// IndexComment returns the archive comment locating the index entry whose
// local header starts at offset. ok is false when offset does not fit.
func IndexComment(offset uint64) (comment []byte, ok bool) {
	if !sizing.Fits32(offset) {
		return nil, false
	}
	comment = make([]byte, 0, indexCommentLen)
	comment = append(comment, IndexFormatVersion)
	return binary.LittleEndian.AppendUint32(comment, uint32(offset)), true
}

// ParseIndexComment extracts the index header offset from an archive comment.
func ParseIndexComment(comment []byte) (uint64, bool) {
	if len(comment) != indexCommentLen || comment[0] != IndexFormatVersion {
		return 0, false
	}
	return uint64(binary.LittleEndian.Uint32(comment[1:])), true
}

// CentralRecord is a decoded central directory record.
type CentralRecord struct {
	Method         ziptype.Method
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	HeaderOffset   uint64
	ExternalAttrs  uint32
	Name           string

	// Len is the total encoded length of the record.
	Len int
}

// ParseCentral decodes the central directory record at b[0], resolving
// saturated fields from its ZIP64 extra field.
func ParseCentral(b []byte) (CentralRecord, error) {
	if len(b) < CentralLen || binary.LittleEndian.Uint32(b) != SigCentral {
		return CentralRecord{}, fmt.Errorf("%w: bad central directory signature", ziptype.ErrFormat)
	}
	nameLen := int(binary.LittleEndian.Uint16(b[28:]))
	extraLen := int(binary.LittleEndian.Uint16(b[30:]))
	commentLen := int(binary.LittleEndian.Uint16(b[32:]))
	total := CentralLen + nameLen + extraLen + commentLen
	if len(b) < total {
		return CentralRecord{}, fmt.Errorf("%w: truncated central directory record", ziptype.ErrFormat)
	}
	rec := CentralRecord{
		Method:         ziptype.Method(binary.LittleEndian.Uint16(b[10:])),
		CRC32:          binary.LittleEndian.Uint32(b[16:]),
		CompressedSize: uint64(binary.LittleEndian.Uint32(b[20:])),
		Size:           uint64(binary.LittleEndian.Uint32(b[24:])),
		ExternalAttrs:  binary.LittleEndian.Uint32(b[38:]),
		HeaderOffset:   uint64(binary.LittleEndian.Uint32(b[42:])),
		Name:           string(b[CentralLen : CentralLen+nameLen]),
		Len:            total,
	}
	if err := rec.applyZip64(b[CentralLen+nameLen : CentralLen+nameLen+extraLen]); err != nil {
		return CentralRecord{}, err
	}
	return rec, nil
}

func (rec *CentralRecord) applyZip64(extra []byte) error {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			return fmt.Errorf("%w: truncated extra field", ziptype.ErrFormat)
		}
		field := extra[4 : 4+size]
		extra = extra[4+size:]
		if id != zip64ExtraID {
			continue
		}
		for _, dst := range []*uint64{&rec.Size, &rec.CompressedSize, &rec.HeaderOffset} {
			if *dst != math.MaxUint32 {
				continue
			}
			if len(field) < 8 {
				return fmt.Errorf("%w: short zip64 extra field", ziptype.ErrFormat)
			}
			*dst = binary.LittleEndian.Uint64(field)
			field = field[8:]
		}
	}
	return nil
}

// LocalDataOffset returns the offset of the data following the local header
// at b[0], where b starts at headerOffset in the archive.
func LocalDataOffset(b []byte, headerOffset uint64) (uint64, error) {
	if len(b) < LocalLen || binary.LittleEndian.Uint32(b) != SigLocal {
		return 0, fmt.Errorf("%w: bad local header signature at %d", ziptype.ErrFormat, headerOffset)
	}
	nameLen := uint64(binary.LittleEndian.Uint16(b[26:]))
	extraLen := uint64(binary.LittleEndian.Uint16(b[28:]))
	return headerOffset + LocalLen + nameLen + extraLen, nil
}

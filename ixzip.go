package ixzip

import (
	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/write"
	"github.com/meigma/ixzip/internal/zipread"
	"github.com/meigma/ixzip/internal/ziptype"
)

// Method is a ZIP compression method.
type Method = ziptype.Method

// Compression methods.
const (
	MethodStored  = ziptype.MethodStored
	MethodDeflate = ziptype.MethodDeflate
	MethodZstd    = ziptype.MethodZstd
)

// DirEntriesMode selects which directories get explicit entries.
type DirEntriesMode = ziptype.DirEntriesMode

// Directory entry policies.
const (
	// DirEntriesNone writes no directory entries.
	DirEntriesNone = ziptype.DirEntriesNone

	// DirEntriesResourceOnly writes entries for directories holding resources.
	DirEntriesResourceOnly = ziptype.DirEntriesResourceOnly

	// DirEntriesAll also writes entries for directories holding classes.
	DirEntriesAll = ziptype.DirEntriesAll
)

// IndexEntryName is the name of the entry carrying the hash index.
const IndexEntryName = ziptype.IndexEntryName

// Errors re-exported from ziptype.
var (
	// ErrFormat is returned for malformed archives and unsupported methods.
	ErrFormat = ziptype.ErrFormat

	// ErrFinished is returned when writing to a finished archive.
	ErrFinished = ziptype.ErrFinished

	// ErrResource is returned when scratch space cannot be created or mapped.
	ErrResource = ziptype.ErrResource

	// ErrChecksum is returned when entry content does not match its CRC-32.
	ErrChecksum = ziptype.ErrChecksum

	// ErrDecompression is returned when an entry cannot be decoded.
	ErrDecompression = ziptype.ErrDecompression

	// ErrSizeOverflow is returned when a size exceeds what the format can record.
	ErrSizeOverflow = ziptype.ErrSizeOverflow
)

// Index is a loaded hash index.
type Index = index.Index

// IndexEntry is one record of an Index.
type IndexEntry = index.Entry

// HashName returns the index key for an entry or package name.
func HashName(name string) uint64 {
	return index.HashString(name)
}

// Archive gives random access to the entries of an open archive.
type Archive = zipread.Reader

// Entry is one entry of an open archive.
type Entry = zipread.Entry

// ByteSource supplies an entry's content on demand.
type ByteSource = zipread.ByteSource

// SkipCompressionFunc returns true when a file should be stored uncompressed.
// It is called once per file and should be inexpensive.
type SkipCompressionFunc = write.SkipCompressionFunc

// DefaultSkipCompression returns a SkipCompressionFunc that skips small files
// and known already-compressed extensions.
var DefaultSkipCompression = write.DefaultSkipCompression

// Re-export progress types.
type (
	// ProgressEvent represents a progress update during creation or extraction.
	ProgressEvent = ziptype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = ziptype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = ziptype.ProgressFunc
)

// Progress stages.
const (
	StageEnumerating  = ziptype.StageEnumerating
	StageCompressing  = ziptype.StageCompressing
	StageMerging      = ziptype.StageMerging
	StageWritingIndex = ziptype.StageWritingIndex
	StageExtracting   = ziptype.StageExtracting
)

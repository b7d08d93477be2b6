package ziptype

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrFormat is returned when input is not a well-formed archive: a bad
	// signature, a truncated trailer, or an unsupported compression method.
	ErrFormat = errors.New("ixzip: invalid archive format")

	// ErrFinished is returned when writing to a writer that was finished or closed.
	ErrFinished = errors.New("ixzip: archive already finished")

	// ErrResource is returned when a scratch file cannot be created or mapped.
	ErrResource = errors.New("ixzip: resource unavailable")

	// ErrChecksum is returned when decoded content does not match its CRC-32.
	ErrChecksum = errors.New("ixzip: checksum mismatch")

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = errors.New("ixzip: decompression failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("ixzip: size overflow")
)

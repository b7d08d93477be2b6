package ziptype

// Method identifies how an entry's bytes are stored in the archive.
// Values are the ZIP compression method identifiers.
type Method uint16

const (
	MethodStored  Method = 0
	MethodDeflate Method = 8
	MethodZstd    Method = 93
)

// String returns the human-readable name of the method.
func (m Method) String() string {
	switch m {
	case MethodStored:
		return "stored"
	case MethodDeflate:
		return "deflate"
	case MethodZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a method this module can encode and decode.
func (m Method) Valid() bool {
	switch m {
	case MethodStored, MethodDeflate, MethodZstd:
		return true
	default:
		return false
	}
}

// DirEntriesMode controls which directory entries are materialized in an archive.
type DirEntriesMode uint8

const (
	// DirEntriesNone writes no directory entries.
	DirEntriesNone DirEntriesMode = iota

	// DirEntriesResourceOnly writes directories that contain non-class files.
	DirEntriesResourceOnly

	// DirEntriesAll writes every directory that contains any file.
	DirEntriesAll
)

// String returns the name of the mode.
func (m DirEntriesMode) String() string {
	switch m {
	case DirEntriesNone:
		return "none"
	case DirEntriesResourceOnly:
		return "resource-only"
	case DirEntriesAll:
		return "all"
	default:
		return "unknown"
	}
}

package ziptype

import "io/fs"

// IndexEntryName is the name of the stored entry that carries the hash index.
const IndexEntryName = "__index__"

// Unix permission bits recorded in central directory external attributes.
const (
	DirMode  fs.FileMode = fs.ModeDir | 0o755
	FileMode fs.FileMode = 0o644
)

// EntryMeta describes one entry as it is written to an archive.
//
// EntryMeta is transient: the writer fills in offsets as the entry is
// committed and hands it to the index builder.
type EntryMeta struct {
	// Name is the slash-separated entry name. Directory names end in "/".
	Name string

	// Method is the storage method of the encoded bytes.
	Method Method

	// CRC32 is the IEEE CRC-32 of the uncompressed content.
	CRC32 uint32

	// CompressedSize is the number of encoded bytes following the local header.
	CompressedSize uint64

	// Size is the uncompressed content size.
	Size uint64

	// HeaderOffset is the byte offset of the local file header.
	HeaderOffset uint64

	// DataOffset is the byte offset of the first data byte.
	DataOffset uint64

	// Mode holds permission and type bits stored in the external attributes.
	// Zero means FileMode (or DirMode for directory names).
	Mode fs.FileMode
}

// IsDir reports whether the entry names a directory.
func (m *EntryMeta) IsDir() bool {
	return len(m.Name) > 0 && m.Name[len(m.Name)-1] == '/'
}

// UnixMode returns the mode recorded for the entry, defaulting by entry kind.
func (m *EntryMeta) UnixMode() fs.FileMode {
	if m.Mode != 0 {
		return m.Mode
	}
	if m.IsDir() {
		return DirMode
	}
	return FileMode
}

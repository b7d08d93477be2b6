// Package ixzip writes and reads ZIP archives that carry a hash index.
//
// An archive produced by [Create] is a standard ZIP file: any ZIP tool can
// list and extract it. In addition, its last entry, named "__index__", holds
// a compact table mapping the 64-bit hash of every entry name to the offset
// and stored size of the entry's data, plus the sets of class and resource
// packages present in the archive. The archive comment records where that
// entry begins so a reader can locate the index without scanning.
//
// # Creating archives
//
// Create walks one or more source directories, each mapped to a prefix
// inside the archive:
//
//	res, err := ixzip.Create(ctx, "app.zip", []ixzip.Source{
//	    {Dir: "./build/classes"},
//	    {Dir: "./build/resources", Prefix: "assets"},
//	},
//	    ixzip.CreateWithDirEntries(ixzip.DirEntriesResourceOnly),
//	)
//
// Files are compressed on a pool of workers, each writing into its own
// memory-mapped scratch file, and merged into the output in a single pass.
// Entries are deflated by default; already-compressed formats and files that
// do not shrink are stored.
//
// # Reading archives
//
// [Read] visits every entry with a lazily decoded byte source, and [Open]
// gives random access by name. Stored entries are returned without copying
// from the mapped archive. [LoadIndex] loads only the hash index.
//
//	err := ixzip.Read("app.zip", func(name string, src ixzip.ByteSource) error {
//	    data, err := src.Bytes()
//	    ...
//	})
package ixzip

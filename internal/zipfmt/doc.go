// Package zipfmt encodes and decodes the fixed-layout ZIP records used by the
// archive writer and reader: local file headers, central directory records,
// the classic and ZIP64 end-of-central-directory records, and the archive
// comment that locates the hash index.
//
// All multi-byte fields are little-endian.
package zipfmt

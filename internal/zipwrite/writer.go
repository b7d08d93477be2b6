// Package zipwrite writes ZIP archives sequentially, optionally recording
// every entry in a hash index that is appended as the last entry.
package zipwrite

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/meigma/ixzip/internal/file"
	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/sizing"
	"github.com/meigma/ixzip/internal/zipfmt"
	"github.com/meigma/ixzip/internal/ziptype"
)

// Sink receives archive bytes. Entries are appended with Write; reserved
// local headers are rewritten in place with WriteAt.
type Sink interface {
	io.Writer
	io.WriterAt
}

type reservation struct {
	name       string
	zip64      bool
	dataOffset uint64
}

// Writer appends entries to a Sink and finishes the archive with an optional
// index entry, the central directory and the end records.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	out Sink
	cfg config

	pos     uint64
	count   int
	cd      centralDirectory
	pending map[uint64]reservation

	hasIndex    bool
	indexOffset uint64

	enc file.Encoder
	buf *file.Buffer
	hdr []byte
	win []byte

	finished bool
	closed   bool
	failed   error
}

// NewWriter returns a Writer appending to out, which must be positioned at
// the start of the archive.
func NewWriter(out Sink, opts ...Option) *Writer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Writer{
		out:     out,
		cfg:     cfg,
		pending: make(map[uint64]reservation),
	}
}

func (w *Writer) log() *slog.Logger {
	if w.cfg.logger != nil {
		return w.cfg.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Count returns the number of committed entries.
func (w *Writer) Count() int {
	return w.count
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() uint64 {
	return w.pos
}

// IndexOffset returns the local header offset of the index entry written by
// Finish. ok is false when no index was written.
func (w *Writer) IndexOffset() (offset uint64, ok bool) {
	return w.indexOffset, w.hasIndex
}

func (w *Writer) checkOpen() error {
	if w.failed != nil {
		return fmt.Errorf("%w: earlier write failed: %w", ziptype.ErrFinished, w.failed)
	}
	if w.finished || w.closed {
		return ziptype.ErrFinished
	}
	return nil
}

// fail marks the Writer unusable after a write left partial output behind.
// Pending reservations are dropped and every later call returns
// ErrFinished wrapping err.
func (w *Writer) fail(err error) error {
	if w.failed == nil {
		w.failed = err
	}
	clear(w.pending)
	return err
}

func (w *Writer) write(p []byte) error {
	n, err := w.out.Write(p)
	w.pos += uint64(n) //nolint:gosec // n is non-negative
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("empty entry name")
	}
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("entry name of %d bytes: %w", len(name), ziptype.ErrSizeOverflow)
	}
	return nil
}

// AddDirectory writes an empty stored entry for dir. A trailing "/" is added
// when missing.
func (w *Writer) AddDirectory(dir string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	name := dirName(dir)
	if name == "" {
		return errors.New("add directory: empty name")
	}
	return w.addRaw(&ziptype.EntryMeta{Name: name, Method: ziptype.MethodStored}, nil)
}

func dirName(dir string) string {
	if dir == "" || dir == "/" {
		return ""
	}
	if dir[len(dir)-1] != '/' {
		return dir + "/"
	}
	return dir
}

// AddRaw writes an entry whose content is already encoded with meta.Method.
// meta.CRC32 and meta.Size must describe the decoded content; the offsets
// are assigned by the writer.
func (w *Writer) AddRaw(meta *ziptype.EntryMeta, content []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !meta.Method.Valid() {
		return fmt.Errorf("add %s: method %d: %w", meta.Name, meta.Method, ziptype.ErrFormat)
	}
	if uint64(len(content)) != meta.CompressedSize {
		return fmt.Errorf("add %s: content is %d bytes, header says %d", meta.Name, len(content), meta.CompressedSize)
	}
	if meta.Method == ziptype.MethodStored && meta.Size != meta.CompressedSize {
		return fmt.Errorf("add %s: stored entry with size %d != %d", meta.Name, meta.Size, meta.CompressedSize)
	}
	return w.addRaw(meta, content)
}

func (w *Writer) addRaw(meta *ziptype.EntryMeta, content []byte) error {
	if err := validateName(meta.Name); err != nil {
		return err
	}
	if len(w.pending) > 0 {
		return fmt.Errorf("add %s: %d header reservations pending", meta.Name, len(w.pending))
	}
	if err := w.checkIndexable(meta); err != nil {
		return err
	}
	meta.HeaderOffset = w.pos
	zip64 := !sizing.Fits32(meta.Size) || !sizing.Fits32(meta.CompressedSize)
	w.hdr = zipfmt.AppendLocal(w.hdr[:0], meta, zip64)
	if err := w.write(w.hdr); err != nil {
		return w.fail(fmt.Errorf("write local header %s: %w", meta.Name, err))
	}
	meta.DataOffset = w.pos
	if err := w.write(content); err != nil {
		return w.fail(fmt.Errorf("write %s: %w", meta.Name, err))
	}
	w.commit(meta)
	return nil
}

func (w *Writer) indexed(meta *ziptype.EntryMeta) bool {
	return w.cfg.idx != nil && !meta.IsDir() && meta.Name != ziptype.IndexEntryName
}

// checkIndexable rejects entries whose stored size cannot be recorded in
// the index before any of their bytes are written.
func (w *Writer) checkIndexable(meta *ziptype.EntryMeta) error {
	if !w.indexed(meta) {
		return nil
	}
	if _, err := sizing.ToInt32(meta.CompressedSize, ziptype.ErrSizeOverflow); err != nil {
		return fmt.Errorf("index %s: %d stored bytes: %w", meta.Name, meta.CompressedSize, err)
	}
	return nil
}

func (w *Writer) commit(meta *ziptype.EntryMeta) {
	w.cd.add(meta)
	w.count++
	if w.indexed(meta) {
		size := int32(meta.CompressedSize) //nolint:gosec // checked by checkIndexable
		w.cfg.idx.Add(index.NewEntry(meta.DataOffset, size, index.HashString(meta.Name)), meta.Name)
	}
}

// Reserve writes a placeholder local header for name and returns its offset.
// The entry data follows through Write, and PatchHeaderAt commits the entry.
// sizeHint is the expected uncompressed size; it decides whether the header
// reserves room for ZIP64 sizes.
func (w *Writer) Reserve(name string, method ziptype.Method, sizeHint uint64) (uint64, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	if !method.Valid() {
		return 0, fmt.Errorf("reserve %s: method %d: %w", name, method, ziptype.ErrFormat)
	}
	return w.reserve(name, method, reserveZip64(sizeHint))
}

// reserveZip64 reports whether a header for an entry of size bytes needs
// ZIP64 room, allowing for deflate expansion of incompressible input.
func reserveZip64(size uint64) bool {
	bound, ok := sizing.AddUint64(size, size/64+1024)
	return !ok || !sizing.Fits32(bound)
}

func (w *Writer) reserve(name string, method ziptype.Method, zip64 bool) (uint64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if len(w.pending) > 0 {
		return 0, fmt.Errorf("reserve %s: %d header reservations pending", name, len(w.pending))
	}
	pos := w.pos
	w.hdr = zipfmt.AppendLocal(w.hdr[:0], &ziptype.EntryMeta{Name: name, Method: method}, zip64)
	if err := w.write(w.hdr); err != nil {
		return 0, w.fail(fmt.Errorf("reserve header %s: %w", name, err))
	}
	w.pending[pos] = reservation{name: name, zip64: zip64, dataOffset: w.pos}
	return pos, nil
}

// Write appends entry data after a reserved header.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	if len(w.pending) != 1 {
		return 0, errors.New("write: no reserved header")
	}
	if err := w.write(p); err != nil {
		return 0, w.fail(err)
	}
	return len(p), nil
}

// PatchHeaderAt rewrites the header reserved at pos with the final values in
// meta and commits the entry. The data written since the reservation must be
// exactly meta.CompressedSize bytes.
func (w *Writer) PatchHeaderAt(pos uint64, meta *ziptype.EntryMeta) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return w.patch(pos, meta)
}

func (w *Writer) patch(pos uint64, meta *ziptype.EntryMeta) error {
	r, ok := w.pending[pos]
	if !ok {
		return fmt.Errorf("patch %s: no header reserved at %d", meta.Name, pos)
	}
	if meta.Name != r.name {
		return fmt.Errorf("patch %s: header at %d was reserved for %s", meta.Name, pos, r.name)
	}
	if written := w.pos - r.dataOffset; written != meta.CompressedSize {
		return fmt.Errorf("patch %s: %d data bytes written, header says %d", meta.Name, written, meta.CompressedSize)
	}
	if !r.zip64 && (!sizing.Fits32(meta.Size) || !sizing.Fits32(meta.CompressedSize)) {
		return fmt.Errorf("patch %s: header reserved without zip64 room: %w", meta.Name, ziptype.ErrSizeOverflow)
	}
	if err := w.checkIndexable(meta); err != nil {
		return err
	}
	off, err := sizing.ToInt64(pos, ziptype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	meta.HeaderOffset = pos
	meta.DataOffset = r.dataOffset
	w.hdr = zipfmt.AppendLocal(w.hdr[:0], meta, r.zip64)
	if _, err := w.out.WriteAt(w.hdr, off); err != nil {
		return fmt.Errorf("patch header %s: %w", meta.Name, err)
	}
	delete(w.pending, pos)
	w.commit(meta)
	return nil
}

// Finish writes the index entry (when idx is non-nil and the archive is not
// empty), the central directory and the end records. The Writer rejects
// further entries afterwards.
func (w *Writer) Finish(idx *index.Builder) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.finished = true
	if len(w.pending) > 0 {
		return fmt.Errorf("finish: %d header reservations not patched", len(w.pending))
	}
	if idx != nil && w.count > 0 {
		if err := w.writeIndex(idx); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
	}
	return w.writeDirectory()
}

type dataWriter struct {
	w *Writer
}

func (d dataWriter) Write(p []byte) (int, error) {
	if err := d.w.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) writeIndex(idx *index.Builder) error {
	pos, err := w.reserve(ziptype.IndexEntryName, ziptype.MethodStored, false)
	if err != nil {
		return err
	}
	cw := &file.CountingWriter{W: dataWriter{w}}
	if _, err := idx.WriteTo(cw); err != nil {
		return err
	}
	meta := &ziptype.EntryMeta{
		Name:           ziptype.IndexEntryName,
		Method:         ziptype.MethodStored,
		CRC32:          idx.CRC32(),
		CompressedSize: cw.N,
		Size:           cw.N,
	}
	if err := w.patch(pos, meta); err != nil {
		return err
	}
	w.hasIndex = true
	w.indexOffset = pos
	w.log().Debug("wrote index", "entries", idx.Len(), "bytes", cw.N, "offset", pos)
	return nil
}

func (w *Writer) writeDirectory() error {
	if w.cd.records != w.count {
		return fmt.Errorf("central directory holds %d records for %d entries", w.cd.records, w.count)
	}
	cdOffset := w.pos
	if err := w.write(w.cd.bytes()); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}
	cdSize := w.pos - cdOffset

	var comment []byte
	if w.hasIndex {
		c, ok := zipfmt.IndexComment(w.indexOffset)
		if ok {
			comment = c
		} else {
			w.log().Warn("index offset does not fit the archive comment", "offset", w.indexOffset)
		}
	}

	entries := uint64(w.count) //nolint:gosec // count is non-negative
	w.hdr = w.hdr[:0]
	if entries < zipfmt.MaxEntries && sizing.Fits32(cdOffset) && sizing.Fits32(cdSize) {
		w.hdr = zipfmt.AppendEOCD(w.hdr, zipfmt.EOCD{
			Entries:  uint16(entries),
			CDSize:   uint32(cdSize),
			CDOffset: uint32(cdOffset),
			Comment:  comment,
		})
	} else {
		eocd64Offset := w.pos
		w.hdr = zipfmt.AppendEOCD64(w.hdr, zipfmt.EOCD64{Entries: entries, CDSize: cdSize, CDOffset: cdOffset})
		w.hdr = zipfmt.AppendLocator(w.hdr, eocd64Offset)
		w.hdr = zipfmt.AppendEOCD(w.hdr, zipfmt.EOCD{
			Entries:  math.MaxUint16,
			CDSize:   math.MaxUint32,
			CDOffset: math.MaxUint32,
			Comment:  comment,
		})
	}
	if err := w.write(w.hdr); err != nil {
		return fmt.Errorf("write end records: %w", err)
	}
	w.log().Debug("finished archive", "entries", w.count, "bytes", w.pos, "zip64", entries >= zipfmt.MaxEntries)
	return nil
}

// Close finishes the archive without an index if Finish was not called and
// releases the Writer's buffers. A Writer that failed mid-entry is only
// released. Close is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	var err error
	if !w.finished && w.failed == nil {
		err = w.Finish(nil)
	}
	w.closed = true
	w.cd.release()
	w.buf.Release()
	w.buf = nil
	w.enc = nil
	w.win = nil
	return err
}

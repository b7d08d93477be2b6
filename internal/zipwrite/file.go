package zipwrite

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"

	"github.com/meigma/ixzip/internal/file"
	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/write"
	"github.com/meigma/ixzip/internal/ziptype"
)

func (w *Writer) encoder() (file.Encoder, error) {
	if w.enc == nil {
		enc, err := file.NewEncoder(w.cfg.method, w.cfg.level)
		if err != nil {
			return nil, err
		}
		w.enc = enc
	}
	return w.enc, nil
}

func (w *Writer) buffer() *file.Buffer {
	if w.buf == nil {
		w.buf = file.GetBuffer()
	}
	w.buf.Reset()
	return w.buf
}

// shouldCompress reports whether an entry of size bytes is worth encoding.
func (w *Writer) shouldCompress(name string, info fs.FileInfo, size int64) bool {
	if w.cfg.method == ziptype.MethodStored || size == 0 || size < w.cfg.compressThreshold {
		return false
	}
	return !write.HasCompressedExt(name) && !write.ShouldSkip(name, info, w.cfg.skip)
}

// WriteBytes writes data as a single entry, compressing it when the encoded
// form is smaller.
func (w *Writer) WriteBytes(name string, data []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	meta := &ziptype.EntryMeta{
		Name:           name,
		Method:         ziptype.MethodStored,
		CRC32:          crc32.ChecksumIEEE(data),
		Size:           uint64(len(data)),
		CompressedSize: uint64(len(data)),
	}
	if !w.shouldCompress(name, nil, int64(len(data))) {
		return w.addRaw(meta, data)
	}
	encoded, err := w.encode(data)
	if err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	if len(encoded) >= len(data) {
		return w.addRaw(meta, data)
	}
	meta.Method = w.cfg.method
	meta.CompressedSize = uint64(len(encoded))
	return w.addRaw(meta, encoded)
}

func (w *Writer) encode(data []byte) ([]byte, error) {
	enc, err := w.encoder()
	if err != nil {
		return nil, err
	}
	buf := w.buffer()
	enc.Reset(buf)
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// File writes the regular file at path as entry name.
//
// Small files that are not compressed are read whole. Anything else is
// streamed in page-aligned windows, mapped where the platform allows, behind
// a reserved header that is patched once sizes and checksum are known.
func (w *Writer) File(name, path string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("add %s: not a regular file", path)
	}
	return w.FromFile(name, f, info)
}

// FromFile writes the open regular file f as entry name. info must be the
// result of f.Stat.
func (w *Writer) FromFile(name string, f *os.File, info fs.FileInfo) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	size := info.Size()
	compress := w.shouldCompress(name, info, size)
	if size < w.cfg.largeThreshold && !compress {
		return w.fileWhole(name, f, size)
	}
	return w.stream(name, f, size, compress)
}

func (w *Writer) fileWhole(name string, f *os.File, size int64) error {
	buf := w.buffer()
	buf.Grow(int(size))
	if _, err := io.CopyN(buf, f, size); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	data := buf.Bytes()
	return w.addRaw(&ziptype.EntryMeta{
		Name:           name,
		Method:         ziptype.MethodStored,
		CRC32:          crc32.ChecksumIEEE(data),
		Size:           uint64(len(data)),
		CompressedSize: uint64(len(data)),
	}, data)
}

// switchWriter lets an encoder's output be redirected mid-stream.
type switchWriter struct {
	dst io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	return s.dst.Write(p)
}

func (w *Writer) stream(name string, f *os.File, size int64, compress bool) (err error) {
	method := ziptype.MethodStored
	if compress {
		method = w.cfg.method
	}
	pos, err := w.reserve(name, method, reserveZip64(uint64(size))) //nolint:gosec // size is non-negative
	if err != nil {
		return err
	}
	// The reserved header and any data after it cannot be taken back.
	defer func() {
		if err != nil {
			delete(w.pending, pos)
			w.fail(err) //nolint:errcheck // err is returned by stream
		}
	}()
	dataStart := w.pos

	var (
		enc   file.Encoder
		first *file.Buffer
		sw    switchWriter
	)
	if compress {
		if enc, err = w.encoder(); err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
		first = w.buffer()
		sw.dst = first
		enc.Reset(&sw)
	}

	crc := crc32.NewIEEE()
	window := int64(w.cfg.windowSize)
	for off := int64(0); off < size; off += window {
		chunk, release, err := w.window(f, off, int(min(window, size-off)))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		crc.Write(chunk) //nolint:errcheck // hash writes never fail
		switch {
		case !compress:
			err = w.write(chunk)
		case off == 0:
			compress, err = w.firstWindow(name, enc, first, &sw, chunk)
			if !compress {
				method = ziptype.MethodStored
			}
		default:
			_, err = enc.Write(chunk)
		}
		release()
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if compress {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
	}

	return w.patch(pos, &ziptype.EntryMeta{
		Name:           name,
		Method:         method,
		CRC32:          crc.Sum32(),
		Size:           uint64(size), //nolint:gosec // size is non-negative
		CompressedSize: w.pos - dataStart,
	})
}

// firstWindow compresses the first window into a buffer and decides whether
// the entry stays compressed. When the encoded window is larger than the
// input the raw window is written and the entry falls back to stored.
// Otherwise the buffered output is written and the encoder is switched to
// write straight to the archive.
func (w *Writer) firstWindow(name string, enc file.Encoder, first *file.Buffer, sw *switchWriter, chunk []byte) (bool, error) {
	if _, err := enc.Write(chunk); err != nil {
		return false, err
	}
	if err := enc.Flush(); err != nil {
		return false, err
	}
	if first.Len() > len(chunk) {
		w.log().Debug("storing incompressible entry", "name", name, "window", len(chunk), "encoded", first.Len())
		return false, w.write(chunk)
	}
	if err := w.write(first.Bytes()); err != nil {
		return true, err
	}
	sw.dst = dataWriter{w}
	return true, nil
}

// window returns n bytes of f at off. The slice is mapped when possible and
// must not be used after release is called.
func (w *Writer) window(f *os.File, off int64, n int) (data []byte, release func(), err error) {
	data, err = platform.MapRange(f, off, n)
	if err == nil {
		return data, func() { platform.Unmap(data) }, nil //nolint:errcheck // best-effort unmap
	}
	if !errors.Is(err, platform.ErrMapUnsupported) {
		w.log().Debug("mapping failed, reading window", "offset", off, "error", err)
	}
	if cap(w.win) < n {
		w.win = make([]byte, n)
	}
	buf := w.win[:n]
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, nil, err
	}
	return buf, func() {}, nil
}

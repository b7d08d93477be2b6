package parallel

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/ixzip/internal/file"
	"github.com/meigma/ixzip/internal/scratch"
	"github.com/meigma/ixzip/internal/ziptype"
)

const copyBufferSize = 64 << 10

// worker owns one scratch unit and one encoder. Only the worker's goroutine
// touches them until the barrier in WriteTo.
type worker struct {
	id   int
	c    *Compressor
	unit *scratch.Unit
	enc  file.Encoder
	buf  []byte
}

func (wk *worker) loop(ctx context.Context) error {
	for src := range wk.c.tasks {
		if ctx.Err() != nil {
			// Another worker failed; drain without work.
			continue
		}
		err := wk.compress(src)
		if errors.Is(err, ErrSkip) {
			wk.c.log().Debug("entry skipped", "name", src.Name, "reason", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("compress %s: %w", src.Name, err)
		}
		done := int(wk.c.done.Add(1))
		wk.c.report(ziptype.ProgressEvent{
			Stage:      ziptype.StageCompressing,
			Path:       src.Name,
			FilesDone:  done,
			FilesTotal: int(wk.c.submitted.Load()),
		})
	}
	return nil
}

func (wk *worker) scratch() (*scratch.Unit, error) {
	if wk.unit == nil {
		u, err := wk.c.newUnit()
		if err != nil {
			return nil, err
		}
		wk.unit = u
		wk.buf = make([]byte, copyBufferSize)
		wk.c.log().Debug("scratch mapped", "worker", wk.id, "path", u.Path())
	}
	return wk.unit, nil
}

func (wk *worker) encoder() (file.Encoder, error) {
	if wk.enc == nil {
		enc, err := file.NewEncoder(wk.c.cfg.method, wk.c.cfg.level)
		if err != nil {
			return nil, err
		}
		wk.enc = enc
	}
	return wk.enc, nil
}

func (wk *worker) compress(src Source) (err error) {
	u, err := wk.scratch()
	if err != nil {
		return err
	}
	r, err := src.Open()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	method := ziptype.MethodStored
	if wk.c.cfg.shouldCompress(src.Name, src.Info) {
		method = wk.c.cfg.method
	}
	start := u.Pos()
	crc, size, err := wk.copy(u, r, method)
	if err != nil {
		u.Rewind(start)
		return err
	}
	if method != ziptype.MethodStored && u.Pos()-start >= size {
		u.Rewind(start)
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
		method = ziptype.MethodStored
		if crc, size, err = wk.copy(u, r, method); err != nil {
			u.Rewind(start)
			return err
		}
	}

	u.Append(scratch.Item{
		Meta:           ziptype.EntryMeta{Name: src.Name, Method: method, Mode: src.Mode},
		CRC32:          crc,
		CompressedSize: u.Pos() - start,
		Size:           size,
		Offset:         start,
	})
	return nil
}

// copy encodes r into dst with method and returns the CRC-32 and length of
// the bytes read.
func (wk *worker) copy(dst io.Writer, r io.Reader, method ziptype.Method) (uint32, uint64, error) {
	h := crc32.NewIEEE()
	counted := &file.CountingWriter{W: h}
	tee := io.TeeReader(r, counted)

	if method == ziptype.MethodStored {
		if _, err := io.CopyBuffer(dst, tee, wk.buf); err != nil {
			return 0, 0, err
		}
		return h.Sum32(), counted.N, nil
	}

	enc, err := wk.encoder()
	if err != nil {
		return 0, 0, err
	}
	enc.Reset(dst)
	if _, err := io.CopyBuffer(enc, tee, wk.buf); err != nil {
		return 0, 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, 0, err
	}
	return h.Sum32(), counted.N, nil
}

func (wk *worker) close() error {
	if wk.unit == nil {
		return nil
	}
	err := wk.unit.Close()
	wk.unit = nil
	wk.enc = nil
	wk.buf = nil
	return err
}

// sizeInfo is a minimal fs.FileInfo for in-memory content.
type sizeInfo int

func (s sizeInfo) Name() string       { return "" }
func (s sizeInfo) Size() int64        { return int64(s) }
func (s sizeInfo) Mode() fs.FileMode  { return 0 }
func (s sizeInfo) ModTime() time.Time { return time.Time{} }
func (s sizeInfo) IsDir() bool        { return false }
func (s sizeInfo) Sys() any           { return nil }

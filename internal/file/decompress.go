package file

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/ixzip/internal/ziptype"
)

// DecompressPool manages reusable deflate and zstd decoders to reduce
// allocation overhead.
type DecompressPool struct {
	flatePool        sync.Pool
	zstdPool         sync.Pool
	maxDecoderMemory uint64
}

// NewDecompressPool creates a new decoder pool.
// If maxMemory is 0, no memory limit is applied to zstd decoders.
func NewDecompressPool(maxMemory uint64) *DecompressPool {
	return &DecompressPool{maxDecoderMemory: maxMemory}
}

// Get returns a decoder for method reading from r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *DecompressPool) Get(method ziptype.Method, r io.Reader) (io.Reader, func(), error) {
	switch method {
	case ziptype.MethodStored:
		return r, func() {}, nil
	case ziptype.MethodDeflate:
		return p.getFlate(r)
	case ziptype.MethodZstd:
		return p.getZstd(r)
	default:
		return nil, nil, fmt.Errorf("%w: unsupported compression method %d", ziptype.ErrFormat, method)
	}
}

func (p *DecompressPool) getFlate(r io.Reader) (io.Reader, func(), error) {
	if v, ok := p.flatePool.Get().(io.ReadCloser); ok {
		if rs, ok := v.(flate.Resetter); ok && rs.Reset(r, nil) == nil {
			return v, func() { p.flatePool.Put(v) }, nil
		}
	}
	fr := flate.NewReader(r)
	return fr, func() { p.flatePool.Put(fr) }, nil
}

func (p *DecompressPool) getZstd(r io.Reader) (io.Reader, func(), error) {
	if dec, ok := p.zstdPool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return dec, func() {
				_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
				p.zstdPool.Put(dec)
			}, nil
		}
		dec.Close()
	}
	dec, err := p.newZstd(r)
	if err != nil {
		return nil, nil, err
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.zstdPool.Put(dec)
	}, nil
}

// newZstd creates a zstd decoder with the configured memory limit.
func (p *DecompressPool) newZstd(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(false),
	}
	if p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(r, opts...)
}

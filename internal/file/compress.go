package file

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/ixzip/internal/ziptype"
)

// Encoder is a reusable compressor for one method.
//
// Flush emits pending output and keeps the stream open. Close finishes the
// stream but leaves the destination open, and Reset starts a new stream.
type Encoder interface {
	io.WriteCloser
	Flush() error
	Reset(w io.Writer)
}

// NewEncoder returns a reusable encoder for method at the given level.
// Level is interpreted by deflate only; zstd uses its default speed.
func NewEncoder(method ziptype.Method, level int) (Encoder, error) {
	switch method {
	case ziptype.MethodDeflate:
		fw, err := flate.NewWriter(io.Discard, level)
		if err != nil {
			return nil, fmt.Errorf("create deflate encoder: %w", err)
		}
		return fw, nil
	case ziptype.MethodZstd:
		enc, err := zstd.NewWriter(io.Discard, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode method %s", ziptype.ErrFormat, method)
	}
}

package zipwrite

import (
	"log/slog"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/write"
	"github.com/meigma/ixzip/internal/ziptype"
)

// Defaults for streamed file entries.
const (
	// DefaultCompressThreshold is the smallest file worth compressing.
	DefaultCompressThreshold = 8 << 10

	// DefaultLargeThreshold is the size from which files are streamed in
	// windows instead of being read whole.
	DefaultLargeThreshold = 4 << 20

	// DefaultWindowSize is the length of one mapped read window.
	DefaultWindowSize = 1 << 20
)

type config struct {
	idx               *index.Builder
	method            ziptype.Method
	level             int
	compressThreshold int64
	largeThreshold    int64
	windowSize        int
	skip              []write.SkipCompressionFunc
	logger            *slog.Logger
}

func defaultConfig() config {
	return config{
		method:            ziptype.MethodDeflate,
		level:             flate.DefaultCompression,
		compressThreshold: DefaultCompressThreshold,
		largeThreshold:    DefaultLargeThreshold,
		windowSize:        DefaultWindowSize,
	}
}

// Option configures a Writer.
type Option func(*config)

// WithIndex records every committed file entry in b.
func WithIndex(b *index.Builder) Option {
	return func(c *config) {
		c.idx = b
	}
}

// WithMethod sets the method used for compressed file entries.
// MethodStored disables compression.
func WithMethod(m ziptype.Method) Option {
	return func(c *config) {
		c.method = m
	}
}

// WithLevel sets the encoder level passed to the compressor.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithCompressThreshold sets the smallest file size that is compressed.
func WithCompressThreshold(n int64) Option {
	return func(c *config) {
		if n >= 0 {
			c.compressThreshold = n
		}
	}
}

// WithLargeThreshold sets the size from which files are streamed in windows.
func WithLargeThreshold(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.largeThreshold = n
		}
	}
}

// WithWindowSize sets the read window for streamed files.
// The size is rounded up to a whole number of pages.
func WithWindowSize(n int) Option {
	return func(c *config) {
		if n <= 0 {
			return
		}
		page := platform.PageSize()
		c.windowSize = (n + page - 1) / page * page
	}
}

// WithSkipCompression adds predicates that force a file to be stored.
func WithSkipCompression(fns ...write.SkipCompressionFunc) Option {
	return func(c *config) {
		c.skip = append(c.skip, fns...)
	}
}

// WithLogger sets the logger for writer diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

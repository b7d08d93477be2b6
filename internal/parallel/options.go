package parallel

import (
	"io/fs"
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/ixzip/internal/write"
	"github.com/meigma/ixzip/internal/ziptype"
)

// DefaultCompressThreshold is the smallest entry that is compressed.
const DefaultCompressThreshold = 8 << 10

type config struct {
	workers           int
	scratchDir        string
	scratchSize       int
	method            ziptype.Method
	level             int
	compressThreshold int64
	skip              []write.SkipCompressionFunc
	progress          ziptype.ProgressFunc
	logger            *slog.Logger
}

func defaultConfig() config {
	return config{
		workers:           runtime.GOMAXPROCS(0),
		method:            ziptype.MethodDeflate,
		level:             flate.DefaultCompression,
		compressThreshold: DefaultCompressThreshold,
	}
}

func (c *config) shouldCompress(name string, info fs.FileInfo) bool {
	if c.method == ziptype.MethodStored {
		return false
	}
	if info != nil && (info.Size() == 0 || info.Size() < c.compressThreshold) {
		return false
	}
	return !write.HasCompressedExt(name) && !write.ShouldSkip(name, info, c.skip)
}

// Option configures a Compressor.
type Option func(*config)

// WithWorkers sets the number of compression workers.
// Values below one use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithScratchDir sets the directory for scratch files (os.TempDir when empty).
func WithScratchDir(dir string) Option {
	return func(c *config) {
		c.scratchDir = dir
	}
}

// WithScratchSize sets the initial mapped size of each worker's scratch file.
func WithScratchSize(n int) Option {
	return func(c *config) {
		c.scratchSize = n
	}
}

// WithMethod sets the compression method. MethodStored disables compression.
func WithMethod(m ziptype.Method) Option {
	return func(c *config) {
		c.method = m
	}
}

// WithLevel sets the deflate level.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithCompressThreshold sets the smallest entry size that is compressed.
func WithCompressThreshold(n int64) Option {
	return func(c *config) {
		if n >= 0 {
			c.compressThreshold = n
		}
	}
}

// WithSkipCompression adds predicates that force an entry to be stored.
func WithSkipCompression(fns ...write.SkipCompressionFunc) Option {
	return func(c *config) {
		c.skip = append(c.skip, fns...)
	}
}

// WithProgress sets a callback invoked as entries are compressed and merged.
// The callback is called from worker goroutines.
func WithProgress(fn ziptype.ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithLogger sets the logger for compressor diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

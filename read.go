package ixzip

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/zipread"
)

// Processor receives each entry of an archive. src decodes the entry on
// demand; it must not be used after Read returns.
type Processor func(name string, src ByteSource) error

// readConfig holds configuration for reading archives.
type readConfig struct {
	maxDecoderMemory uint64
	logger           *slog.Logger
}

// ReadOption configures archive reading.
type ReadOption func(*readConfig)

// ReadWithMaxDecoderMemory limits the memory a zstd decoder may allocate.
func ReadWithMaxDecoderMemory(n uint64) ReadOption {
	return func(cfg *readConfig) {
		cfg.maxDecoderMemory = n
	}
}

// ReadWithLogger sets the logger for archive reading.
func ReadWithLogger(logger *slog.Logger) ReadOption {
	return func(cfg *readConfig) {
		cfg.logger = logger
	}
}

func (cfg readConfig) readerOptions() []zipread.Option {
	return []zipread.Option{
		zipread.WithMaxDecoderMemory(cfg.maxDecoderMemory),
		zipread.WithLogger(cfg.logger),
	}
}

// Open opens the archive at path for random access. The caller must Close it.
func Open(path string, opts ...ReadOption) (*Archive, error) {
	var cfg readConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return zipread.Open(path, cfg.readerOptions()...)
}

// Read calls fn for every entry of the archive at path, in central
// directory order, and stops at the first error. The index entry is not
// visited.
func Read(path string, fn Processor, opts ...ReadOption) error {
	r, err := Open(path, opts...)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.ForEach(fn)
}

// LoadIndex loads the hash index of the archive at path. The returned Index
// does not reference the archive file.
func LoadIndex(path string, opts ...ReadOption) (*Index, error) {
	r, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := r.IndexData()
	if err != nil {
		return nil, fmt.Errorf("load index from %s: %w", path, err)
	}
	return index.Load(bytes.Clone(data))
}

// ParseIndex decodes an index blob, such as the content of the index entry.
// The Index aliases data.
func ParseIndex(data []byte) (*Index, error) {
	return index.Load(data)
}

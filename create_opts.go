package ixzip

import (
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/flate"
)

// DefaultMaxFiles is the default limit used when no MaxFiles option is set.
const DefaultMaxFiles = 1_000_000

// ChangeDetection controls how strictly file changes are detected during creation.
type ChangeDetection uint8

const (
	ChangeDetectionNone ChangeDetection = iota
	ChangeDetectionStrict
)

// Source maps a directory on disk to a prefix inside the archive.
type Source struct {
	// Dir is the directory to walk.
	Dir string

	// Prefix is prepended to every entry name. Empty means the archive root.
	Prefix string
}

// createConfig holds configuration for archive creation.
type createConfig struct {
	method          Method
	level           int
	dirEntries      DirEntriesMode
	filter          func(name string) bool
	skipCompression []SkipCompressionFunc
	changeDetection ChangeDetection
	maxFiles        int
	workers         int
	scratchDir      string
	noIndex         bool
	progress        ProgressFunc
	logger          *slog.Logger
}

func defaultCreateConfig() createConfig {
	return createConfig{
		method:     MethodDeflate,
		level:      flate.DefaultCompression,
		dirEntries: DirEntriesResourceOnly,
		workers:    runtime.GOMAXPROCS(0),
	}
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

// CreateWithMethod sets the compression method. Use MethodStored to store
// every entry uncompressed.
func CreateWithMethod(m Method) CreateOption {
	return func(cfg *createConfig) {
		cfg.method = m
	}
}

// CreateWithLevel sets the deflate level (flate.BestSpeed to flate.BestCompression).
func CreateWithLevel(level int) CreateOption {
	return func(cfg *createConfig) {
		cfg.level = level
	}
}

// CreateWithDirEntries selects which directories get explicit entries.
// The default is DirEntriesResourceOnly.
func CreateWithDirEntries(mode DirEntriesMode) CreateOption {
	return func(cfg *createConfig) {
		cfg.dirEntries = mode
	}
}

// CreateWithFilter includes only files whose entry name satisfies keep.
func CreateWithFilter(keep func(name string) bool) CreateOption {
	return func(cfg *createConfig) {
		cfg.filter = keep
	}
}

// CreateWithSkipCompression adds predicates that decide to store a file uncompressed.
// If any predicate returns true, compression is skipped for that file.
// These checks are on the hot path, so keep them cheap.
func CreateWithSkipCompression(fns ...SkipCompressionFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.skipCompression = append(cfg.skipCompression, fns...)
	}
}

// CreateWithChangeDetection controls whether the writer verifies files did not change
// during archive creation. The zero value disables change detection to reduce
// syscalls; enable ChangeDetectionStrict for stronger guarantees.
func CreateWithChangeDetection(cd ChangeDetection) CreateOption {
	return func(cfg *createConfig) {
		cfg.changeDetection = cd
	}
}

// CreateWithMaxFiles limits the number of files included in the archive.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.maxFiles = n
	}
}

// CreateWithWorkers sets the number of compression workers.
// One or fewer writes entries serially on the calling goroutine.
func CreateWithWorkers(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.workers = n
	}
}

// CreateWithScratchDir sets where workers create their scratch files.
// The default is os.TempDir.
func CreateWithScratchDir(dir string) CreateOption {
	return func(cfg *createConfig) {
		cfg.scratchDir = dir
	}
}

// CreateWithoutIndex produces a plain ZIP archive with no index entry.
func CreateWithoutIndex() CreateOption {
	return func(cfg *createConfig) {
		cfg.noIndex = true
	}
}

// CreateWithProgress sets a callback for progress updates.
// The callback may be invoked from multiple goroutines.
func CreateWithProgress(fn ProgressFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.progress = fn
	}
}

// CreateWithLogger sets the logger for archive creation.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = logger
	}
}

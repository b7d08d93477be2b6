package ixzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/ixzip/internal/sink"
)

// ErrUnsafePath is returned for entry names that would escape the
// destination directory.
var ErrUnsafePath = sink.ErrUnsafePath

// extractConfig holds configuration for extraction.
type extractConfig struct {
	workers      int
	overwrite    bool
	preserveMode bool
	filter       func(name string) bool
	progress     ProgressFunc
	logger       *slog.Logger
	readOpts     []ReadOption
}

// ExtractOption configures extraction.
type ExtractOption func(*extractConfig)

// ExtractWithWorkers bounds the number of entries written concurrently.
// Zero or less uses GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.workers = n
	}
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.overwrite = overwrite
	}
}

// ExtractWithPreserveMode applies the permission bits recorded in the archive.
func ExtractWithPreserveMode(preserve bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.preserveMode = preserve
	}
}

// ExtractWithFilter extracts only entries whose name satisfies keep.
func ExtractWithFilter(keep func(name string) bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.filter = keep
	}
}

// ExtractWithProgress sets a callback for progress updates.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.progress = fn
	}
}

// ExtractWithLogger sets the logger for extraction.
func ExtractWithLogger(logger *slog.Logger) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.logger = logger
	}
}

// ExtractWithReadOptions passes options to the archive reader.
func ExtractWithReadOptions(opts ...ReadOption) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.readOpts = append(cfg.readOpts, opts...)
	}
}

// Extract writes the entries of archive below destDir.
//
// Files are written atomically through a temporary file and verified
// against their CRC-32 before they become visible. Entry names that would
// escape destDir fail with ErrUnsafePath.
func Extract(ctx context.Context, archive, destDir string, opts ...ExtractOption) error {
	cfg := extractConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r, err := Open(archive, cfg.readOpts...)
	if err != nil {
		return err
	}
	defer r.Close()

	s := sink.New(destDir, sink.WithOverwrite(cfg.overwrite), sink.WithPreserveMode(cfg.preserveMode))
	sem := semaphore.NewWeighted(int64(cfg.workers))
	g, gctx := errgroup.WithContext(ctx)

	var done atomic.Int64
	total := r.Len()
	var acquireErr error
	for _, e := range r.Entries() {
		if err := gctx.Err(); err != nil {
			acquireErr = err
			break
		}
		if cfg.filter != nil && !cfg.filter(e.Name) {
			continue
		}
		if e.IsDir() {
			if err := s.Mkdir(e.Name); err != nil {
				acquireErr = fmt.Errorf("extract %s: %w", e.Name, err)
				break
			}
			continue
		}
		if !s.ShouldWrite(e.Name) {
			logger.Debug("existing file skipped", "name", e.Name)
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := extractEntry(s, e); err != nil {
				return fmt.Errorf("extract %s: %w", e.Name, err)
			}
			if cfg.progress != nil {
				cfg.progress(ProgressEvent{
					Stage:      StageExtracting,
					Path:       e.Name,
					BytesDone:  e.Size,
					BytesTotal: e.Size,
					FilesDone:  int(done.Add(1)),
					FilesTotal: total,
				})
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil && acquireErr != nil {
		err = acquireErr
	}
	if err != nil {
		return err
	}
	logger.Info("archive extracted", "archive", archive, "dest", destDir, "files", done.Load())
	return nil
}

func extractEntry(s *sink.FileSink, e *Entry) error {
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := s.Writer(e.Name, e.Mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		return errors.Join(err, w.Discard())
	}
	return w.Commit()
}

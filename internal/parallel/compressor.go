// Package parallel compresses archive entries on a pool of workers, each
// writing into its own memory-mapped scratch file, and merges the results
// into an archive writer once every task is done.
package parallel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/scratch"
	"github.com/meigma/ixzip/internal/ziptype"
)

// ErrSkip may be wrapped by the error a Source's Open returns to leave the
// entry out of the merged output.
var ErrSkip = errors.New("parallel: entry skipped")

// Source is one file entry to compress.
type Source struct {
	// Name is the entry name in the archive.
	Name string

	// Info describes the file. It feeds the skip predicates and may be nil.
	Info fs.FileInfo

	// Mode is recorded in the entry's external attributes. Zero uses the default.
	Mode fs.FileMode

	// Open returns the entry content. The reader is rewound when an entry
	// turns out to be incompressible. An error wrapping ErrSkip drops the
	// entry instead of failing the run.
	Open func() (io.ReadSeekCloser, error)
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }

// BytesSource returns a Source for in-memory content.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Info: sizeInfo(len(data)),
		Open: func() (io.ReadSeekCloser, error) {
			return nopCloser{bytes.NewReader(data)}, nil
		},
	}
}

// Sink receives merged entries in worker order.
type Sink interface {
	AddRaw(meta *ziptype.EntryMeta, content []byte) error
}

// Compressor distributes entries to a fixed set of workers.
//
// AddEntry and WriteTo must be called from a single goroutine. Entries a
// worker receives keep their submission order in the merged output, but the
// interleaving across workers is unspecified.
type Compressor struct {
	cfg     config
	workers []*worker
	tasks   chan Source
	g       *errgroup.Group
	gctx    context.Context

	submitted atomic.Int64
	done      atomic.Int64
	finished  bool
}

// New starts the worker pool. Scratch files queued for removal by an earlier
// session are swept first.
func New(opts ...Option) *Compressor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Compressor{
		cfg:   cfg,
		tasks: make(chan Source, 2*cfg.workers),
	}
	if remaining := platform.SweepDeferred(); len(remaining) > 0 {
		c.log().Warn("scratch files still pending removal", "count", len(remaining))
	}

	c.g, c.gctx = errgroup.WithContext(context.Background())
	c.workers = make([]*worker, cfg.workers)
	for i := range c.workers {
		wk := &worker{id: i, c: c}
		c.workers[i] = wk
		c.g.Go(func() error {
			return wk.loop(c.gctx)
		})
	}
	c.log().Debug("compressor started", "workers", cfg.workers, "method", cfg.method)
	return c
}

func (c *Compressor) log() *slog.Logger {
	if c.cfg.logger != nil {
		return c.cfg.logger
	}
	return slog.New(slog.DiscardHandler)
}

// AddEntry queues src for compression. It blocks while all workers are busy
// and returns early when ctx is cancelled or a worker has failed.
func (c *Compressor) AddEntry(ctx context.Context, src Source) error {
	if c.finished {
		return ziptype.ErrFinished
	}
	if src.Open == nil {
		return fmt.Errorf("add %s: no content", src.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.gctx.Err(); err != nil {
		return context.Cause(c.gctx)
	}
	select {
	case c.tasks <- src:
		c.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.gctx.Done():
		return context.Cause(c.gctx)
	}
}

// WriteTo waits for every queued entry, then hands each worker's items to
// sink in order. All scratch files are closed and removed before WriteTo
// returns, whether or not it succeeds.
func (c *Compressor) WriteTo(sink Sink) error {
	if c.finished {
		return ziptype.ErrFinished
	}
	defer c.closeUnits()
	if err := c.wait(); err != nil {
		return err
	}

	total := int(c.submitted.Load())
	merged := 0
	for _, wk := range c.workers {
		if wk.unit == nil {
			continue
		}
		if err := wk.unit.Finalize(); err != nil {
			return fmt.Errorf("finalize scratch: %w", err)
		}
		for _, item := range wk.unit.Items() {
			meta := item.Meta
			meta.CRC32 = item.CRC32
			meta.CompressedSize = item.CompressedSize
			meta.Size = item.Size
			if err := sink.AddRaw(&meta, wk.unit.Bytes(item)); err != nil {
				return fmt.Errorf("merge %s: %w", meta.Name, err)
			}
			merged++
			c.report(ziptype.ProgressEvent{
				Stage:      ziptype.StageMerging,
				Path:       meta.Name,
				BytesDone:  item.Size,
				BytesTotal: item.Size,
				FilesDone:  merged,
				FilesTotal: total,
			})
		}
	}
	c.log().Debug("merged entries", "entries", merged)
	return nil
}

// Close stops the workers and removes scratch files without merging.
// It is a no-op after WriteTo.
func (c *Compressor) Close() error {
	if c.finished {
		return nil
	}
	err := c.wait()
	c.closeUnits()
	return err
}

func (c *Compressor) wait() error {
	c.finished = true
	close(c.tasks)
	return c.g.Wait()
}

// closeUnits releases every scratch unit. Failures are logged; paths that
// could not be removed stay queued for the next session.
func (c *Compressor) closeUnits() {
	for _, wk := range c.workers {
		if err := wk.close(); err != nil {
			c.log().Warn("scratch cleanup failed", "worker", wk.id, "error", err)
		}
	}
}

func (c *Compressor) report(ev ziptype.ProgressEvent) {
	if c.cfg.progress != nil {
		c.cfg.progress(ev)
	}
}

func (c *Compressor) newUnit() (*scratch.Unit, error) {
	return scratch.Create(c.cfg.scratchDir, c.cfg.scratchSize)
}

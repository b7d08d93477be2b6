package ixzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/parallel"
	"github.com/meigma/ixzip/internal/pathutil"
	"github.com/meigma/ixzip/internal/pkgindex"
	"github.com/meigma/ixzip/internal/platform"
	"github.com/meigma/ixzip/internal/write"
	"github.com/meigma/ixzip/internal/zipwrite"
	"github.com/meigma/ixzip/internal/ziptype"
)

// ErrTooManyFiles is returned when the sources hold more files than allowed.
var ErrTooManyFiles = errors.New("ixzip: too many files")

// Result describes a finished archive.
type Result struct {
	// Path is the archive path.
	Path string

	// Files is the number of file entries.
	Files int

	// Directories is the number of directory entries.
	Directories int

	// Size is the archive length in bytes.
	Size uint64

	// Indexed reports whether the archive carries an index entry.
	Indexed bool

	// Digest is the SHA-256 digest of the archive bytes.
	Digest digest.Digest
}

// sourceFile is one walked file waiting to be written.
type sourceFile struct {
	name   string
	root   *os.Root
	fsPath string
	info   fs.FileInfo
}

// Create writes an archive at dst from the files under sources.
//
// Files from each source are named by their slash path relative to the
// source directory, joined to its prefix; the first source wins when names
// collide. Symbolic links and other non-regular files are skipped. Directory
// entries are derived from the file names according to the DirEntriesMode
// and written after all files, followed by the index entry.
//
// On failure the partially written archive is removed.
func Create(ctx context.Context, dst string, sources []Source, opts ...CreateOption) (res *Result, err error) {
	cfg := defaultCreateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &creator{cfg: cfg}

	files, closeRoots, err := c.enumerate(ctx, sources)
	defer closeRoots()
	if err != nil {
		return nil, err
	}

	out, err := os.Create(dst) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()    //nolint:errcheck // best-effort cleanup
			_ = os.Remove(dst) //nolint:errcheck // best-effort cleanup
		}
	}()

	res, err = c.write(ctx, out, files)
	if err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	res.Path = dst
	if res.Digest, err = fileDigest(dst); err != nil {
		return nil, err
	}
	c.log().Info("archive created", "path", dst, "files", res.Files, "dirs", res.Directories, "bytes", res.Size, "digest", res.Digest)
	return res, nil
}

type creator struct {
	cfg createConfig
}

func (c *creator) log() *slog.Logger {
	if c.cfg.logger != nil {
		return c.cfg.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *creator) report(ev ProgressEvent) {
	if c.cfg.progress != nil {
		c.cfg.progress(ev)
	}
}

// enumerate walks every source and returns the files to archive in walk
// order. The returned function closes the opened roots.
func (c *creator) enumerate(ctx context.Context, sources []Source) ([]sourceFile, func(), error) {
	var roots []*os.Root
	closeRoots := func() {
		for _, r := range roots {
			_ = r.Close() //nolint:errcheck // read-only handles
		}
	}

	maxFiles := c.cfg.maxFiles
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}
	seen := make(map[string]struct{})
	files := make([]sourceFile, 0, 1024)

	for _, src := range sources {
		root, err := os.OpenRoot(src.Dir)
		if err != nil {
			return nil, closeRoots, fmt.Errorf("open source %s: %w", src.Dir, err)
		}
		roots = append(roots, root)

		err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fsPath := filepath.FromSlash(path)
			info, ok, err := write.ResolveEntryInfo(root, fsPath, d)
			if err != nil || !ok {
				return err
			}
			name := pathutil.Join(src.Prefix, path)
			if c.cfg.filter != nil && !c.cfg.filter(name) {
				return nil
			}
			if _, dup := seen[name]; dup {
				c.log().Warn("duplicate entry name skipped", "name", name, "source", src.Dir)
				return nil
			}
			if maxFiles > 0 && len(files) >= maxFiles {
				return ErrTooManyFiles
			}
			seen[name] = struct{}{}
			files = append(files, sourceFile{name: name, root: root, fsPath: fsPath, info: info})
			c.report(ProgressEvent{Stage: StageEnumerating, Path: name, FilesDone: len(files)})
			return nil
		})
		if err != nil {
			return nil, closeRoots, err
		}
	}
	c.log().Debug("enumerated sources", "sources", len(sources), "files", len(files))
	return files, closeRoots, nil
}

func (c *creator) write(ctx context.Context, out *os.File, files []sourceFile) (*Result, error) {
	var builder *index.Builder
	wopts := []zipwrite.Option{
		zipwrite.WithMethod(c.cfg.method),
		zipwrite.WithLevel(c.cfg.level),
		zipwrite.WithSkipCompression(c.cfg.skipCompression...),
		zipwrite.WithLogger(c.cfg.logger),
	}
	if !c.cfg.noIndex {
		builder = index.NewBuilder()
		wopts = append(wopts, zipwrite.WithIndex(builder))
	}
	w := zipwrite.NewWriter(out, wopts...)

	// Only names that made it into the archive contribute directories.
	ew := &entryWriter{Writer: w, deriver: pkgindex.New(c.cfg.dirEntries)}

	var err error
	if c.cfg.workers > 1 && len(files) > 1 {
		err = c.writeParallel(ctx, ew, files)
	} else {
		err = c.writeSerial(ctx, ew, files)
	}
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}

	dirs := ew.deriver.Directories()
	for _, dir := range dirs {
		if err := w.AddDirectory(dir); err != nil {
			return nil, errors.Join(fmt.Errorf("add directory %s: %w", dir, err), w.Close())
		}
	}

	c.report(ProgressEvent{Stage: StageWritingIndex, FilesDone: w.Count(), FilesTotal: w.Count()})
	if builder != nil {
		ew.deriver.Apply(builder)
	}
	if err := w.Finish(builder); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	_, indexed := w.IndexOffset()
	return &Result{
		Files:       ew.files,
		Directories: len(dirs),
		Size:        w.Offset(),
		Indexed:     indexed,
	}, nil
}

// entryWriter records every file entry the archive receives.
type entryWriter struct {
	*zipwrite.Writer
	deriver *pkgindex.Deriver
	files   int
}

func (w *entryWriter) added(name string) {
	w.deriver.AddFile(name)
	w.files++
}

// AddRaw implements parallel.Sink.
func (w *entryWriter) AddRaw(meta *ziptype.EntryMeta, content []byte) error {
	if err := w.Writer.AddRaw(meta, content); err != nil {
		return err
	}
	w.added(meta.Name)
	return nil
}

func (c *creator) writeSerial(ctx context.Context, w *entryWriter, files []sourceFile) error {
	strict := c.cfg.changeDetection == ChangeDetectionStrict
	for i, sf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.writeFile(w.Writer, sf, strict)
		if errors.Is(err, platform.ErrSymlink) {
			c.log().Debug("symlink skipped", "name", sf.name)
			continue
		}
		if err != nil {
			return fmt.Errorf("add %s: %w", sf.name, err)
		}
		w.added(sf.name)
		c.report(ProgressEvent{
			Stage:      StageCompressing,
			Path:       sf.name,
			BytesDone:  uint64(sf.info.Size()), //nolint:gosec // sizes are non-negative
			BytesTotal: uint64(sf.info.Size()), //nolint:gosec // sizes are non-negative
			FilesDone:  i + 1,
			FilesTotal: len(files),
		})
	}
	return nil
}

func (c *creator) writeFile(w *zipwrite.Writer, sf sourceFile, strict bool) error {
	f, err := c.openFile(sf, strict)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return errors.Join(err, f.Close())
	}
	if err := w.FromFile(sf.name, f.File, info); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func (c *creator) writeParallel(ctx context.Context, w *entryWriter, files []sourceFile) error {
	strict := c.cfg.changeDetection == ChangeDetectionStrict
	comp := parallel.New(
		parallel.WithWorkers(c.cfg.workers),
		parallel.WithScratchDir(c.cfg.scratchDir),
		parallel.WithMethod(c.cfg.method),
		parallel.WithLevel(c.cfg.level),
		parallel.WithSkipCompression(c.cfg.skipCompression...),
		parallel.WithProgress(c.cfg.progress),
		parallel.WithLogger(c.cfg.logger),
	)
	for _, sf := range files {
		err := comp.AddEntry(ctx, parallel.Source{
			Name: sf.name,
			Info: sf.info,
			Open: func() (io.ReadSeekCloser, error) {
				f, err := c.openFile(sf, strict)
				if errors.Is(err, platform.ErrSymlink) {
					return nil, fmt.Errorf("%w: %w", parallel.ErrSkip, err)
				}
				if err != nil {
					return nil, err
				}
				return f, nil
			},
		})
		if err != nil {
			return errors.Join(err, comp.Close())
		}
	}
	return comp.WriteTo(w)
}

// checkedFile verifies on Close that the file did not change while it was read.
type checkedFile struct {
	*os.File
	name   string
	before fs.FileInfo
	strict bool
}

func (f *checkedFile) Close() error {
	err := write.CheckFileUnchanged(f.File, f.name, f.before, f.strict)
	return errors.Join(err, f.File.Close())
}

func (c *creator) openFile(sf sourceFile, strict bool) (*checkedFile, error) {
	f, err := platform.OpenFileNoFollow(sf.root, sf.fsPath)
	if err != nil {
		return nil, err
	}
	return &checkedFile{File: f, name: sf.name, before: sf.info, strict: strict}, nil
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path) //nolint:gosec // path was just written by Create
	if err != nil {
		return "", err
	}
	defer f.Close()
	d, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return d, nil
}

// Package sink writes extracted archive entries to the filesystem.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrUnsafePath is returned for entry names that would escape the
// destination directory.
var ErrUnsafePath = errors.New("entry path escapes destination")

// FileSink writes entries below a destination directory with atomic writes.
//
// Files are written to a temporary file in the same directory, then renamed
// to the final path on Commit, so partially written files are never visible
// at the final path.
type FileSink struct {
	destDir      string
	overwrite    bool
	preserveMode bool
}

// Option configures a FileSink.
type Option func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) Option {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode applies the permission bits recorded in the archive.
// By default files use umask defaults.
func WithPreserveMode(preserve bool) Option {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// New creates a FileSink that writes to destDir.
func New(destDir string, opts ...Option) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path resolves an entry name to its destination path.
func (s *FileSink) Path(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return filepath.Join(s.destDir, rel), nil
}

// ShouldWrite returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldWrite(name string) bool {
	if s.overwrite {
		return true
	}
	path, err := s.Path(name)
	if err != nil {
		return true // surfaces the error from Writer
	}
	_, err = os.Lstat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// Mkdir creates the directory entry name.
func (s *FileSink) Mkdir(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o750)
}

// Committer receives one file's content.
type Committer interface {
	Write(p []byte) (int, error)
	Commit() error
	Discard() error
}

// Writer returns a Committer that writes to a temp file and renames it into
// place on Commit. mode is applied when mode preservation is enabled.
func (s *FileSink) Writer(name string, mode fs.FileMode) (Committer, error) {
	destPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tempFile, err := os.CreateTemp(dir, ".ixzip-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		destPath: destPath,
		tempFile: tempFile,
		mode:     mode,
		sink:     s,
	}, nil
}

type fileCommitter struct {
	destPath string
	tempFile *os.File
	mode     fs.FileMode
	sink     *FileSink
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies the mode and renames it into place.
func (c *fileCommitter) Commit() error {
	tempPath := c.tempFile.Name()
	if err := c.tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if c.sink.preserveMode && c.mode.Perm() != 0 {
		if err := os.Chmod(tempPath, c.mode.Perm()); err != nil {
			_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if err := os.Rename(tempPath, c.destPath); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tempPath)
}

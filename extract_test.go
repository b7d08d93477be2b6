package ixzip

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createArchive(t *testing.T, ts testSources) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "out.zip")
	_, err := Create(context.Background(), dst, ts.sources(), CreateWithScratchDir(t.TempDir()))
	require.NoError(t, err)
	return dst
}

func TestExtractRoundTrip(t *testing.T) {
	t.Parallel()

	ts := makeSources(t)
	archive := createArchive(t, ts)
	dest := t.TempDir()

	var events atomic.Int64
	err := Extract(context.Background(), archive, dest,
		ExtractWithWorkers(3),
		ExtractWithProgress(func(ev ProgressEvent) {
			if ev.Stage == StageExtracting {
				events.Add(1)
			}
		}),
	)
	require.NoError(t, err)
	assert.EqualValues(t, len(ts.want), events.Load())

	for name, content := range ts.want {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, content, got, name)
	}
	_, err = os.Stat(filepath.Join(dest, IndexEntryName))
	assert.ErrorIs(t, err, os.ErrNotExist)

	info, err := os.Stat(filepath.Join(dest, "res", "img"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractSkipsExisting(t *testing.T) {
	t.Parallel()

	ts := makeSources(t)
	archive := createArchive(t, ts)
	dest := t.TempDir()
	existing := filepath.Join(dest, "Main.class")
	require.NoError(t, os.WriteFile(existing, []byte("local"), 0o600))

	require.NoError(t, Extract(context.Background(), archive, dest))
	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), got)

	require.NoError(t, Extract(context.Background(), archive, dest, ExtractWithOverwrite(true)))
	got, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, ts.want["Main.class"], got)
}

func TestExtractFilter(t *testing.T) {
	t.Parallel()

	ts := makeSources(t)
	archive := createArchive(t, ts)
	dest := t.TempDir()

	require.NoError(t, Extract(context.Background(), archive, dest,
		ExtractWithFilter(func(name string) bool { return strings.HasPrefix(name, "res/text/") }),
	))
	_, err := os.Stat(filepath.Join(dest, "res", "text", "large.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "Main.class"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractPreserveMode(t *testing.T) {
	t.Parallel()

	ts := makeSources(t)
	archive := createArchive(t, ts)
	dest := t.TempDir()

	require.NoError(t, Extract(context.Background(), archive, dest, ExtractWithPreserveMode(true)))
	info, err := os.Stat(filepath.Join(dest, "Main.class"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	fw, err := zw.Create("../evil.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("escaped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	err = Extract(context.Background(), archive, dest)
	require.ErrorIs(t, err, ErrUnsafePath)

	_, err = os.Stat(filepath.Join(parent, "evil.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractCancelled(t *testing.T) {
	t.Parallel()

	ts := makeSources(t)
	archive := createArchive(t, ts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Extract(ctx, archive, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterCommit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(dir, WithPreserveMode(true))

	w, err := s.Writer("a/b/c.txt", 0o640)
	require.NoError(t, err)
	_, err = w.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	path := filepath.Join(dir, "a", "b", "c.txt")
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriterDiscard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(dir)
	w, err := s.Writer("x.txt", 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShouldWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exists.txt"), nil, 0o600))

	s := New(dir)
	assert.False(t, s.ShouldWrite("exists.txt"))
	assert.True(t, s.ShouldWrite("missing.txt"))
	assert.True(t, New(dir, WithOverwrite(true)).ShouldWrite("exists.txt"))
}

func TestUnsafePaths(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	for _, name := range []string{"../evil", "/abs/path", "a/../../b", ""} {
		_, err := s.Writer(name, 0)
		require.ErrorIs(t, err, ErrUnsafePath, name)
	}
	require.ErrorIs(t, s.Mkdir("../up/"), ErrUnsafePath)
	require.NoError(t, s.Mkdir("ok/dir/"))
}

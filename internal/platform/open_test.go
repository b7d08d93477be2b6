package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileNoFollow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("real"), 0o600))
	if err := os.Symlink("real.txt", filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	defer root.Close()

	f, err := OpenFileNoFollow(root, "real.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// The link target stays inside the root but is still refused.
	_, err = OpenFileNoFollow(root, "link.txt")
	require.ErrorIs(t, err, ErrSymlink)

	_, err = OpenFileNoFollow(root, "missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

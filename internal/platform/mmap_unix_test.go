//go:build unix

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapWritableThenReadOnly(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "map"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(4096))

	data, err := Map(f, 4096, true)
	require.NoError(t, err)
	copy(data, "mapped")
	require.NoError(t, ReadOnly(data))
	assert.Equal(t, "mapped", string(data[:6]))
	require.NoError(t, Unmap(data))

	got := make([]byte, 6)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(got))
}

func TestMapInvalidSize(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "empty"))
	require.NoError(t, err)
	defer f.Close()

	_, err = Map(f, 0, false)
	assert.Error(t, err)
}

func TestMapRange(t *testing.T) {
	t.Parallel()

	page := PageSize()
	f, err := os.Create(filepath.Join(t.TempDir(), "ranges"))
	require.NoError(t, err)
	defer f.Close()

	content := make([]byte, 2*page)
	for i := range content {
		content[i] = byte(i / page)
	}
	_, err = f.Write(content)
	require.NoError(t, err)

	window, err := MapRange(f, int64(page), page)
	require.NoError(t, err)
	defer Unmap(window) //nolint:errcheck // test cleanup
	assert.Equal(t, content[page:], window)
}

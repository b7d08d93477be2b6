package scratch

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ixzip/internal/ziptype"
)

func TestUnitWriteAndItems(t *testing.T) {
	t.Parallel()

	u, err := Create(t.TempDir(), 4096)
	require.NoError(t, err)
	defer u.Close()

	first := []byte("first entry")
	second := bytes.Repeat([]byte{0xAB}, 100)

	start := u.Pos()
	_, err = u.Write(first)
	require.NoError(t, err)
	u.Append(Item{Meta: ziptype.EntryMeta{Name: "a"}, Offset: start, CompressedSize: uint64(len(first)), Size: uint64(len(first))})

	start = u.Pos()
	_, err = u.Write(second)
	require.NoError(t, err)
	u.Append(Item{Meta: ziptype.EntryMeta{Name: "b"}, Offset: start, CompressedSize: uint64(len(second)), Size: uint64(len(second))})

	require.NoError(t, u.Finalize())
	items := u.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Meta.Name)
	assert.Equal(t, first, u.Bytes(items[0]))
	assert.Equal(t, second, u.Bytes(items[1]))
}

func TestUnitGrows(t *testing.T) {
	t.Parallel()

	u, err := Create(t.TempDir(), 16)
	require.NoError(t, err)
	defer u.Close()

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	_, err = u.Write(payload)
	require.NoError(t, err)
	_, err = u.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*len(payload)), u.Pos())

	item := Item{Offset: uint64(len(payload)), CompressedSize: uint64(len(payload))}
	assert.Equal(t, payload, u.Bytes(item))
}

func TestUnitRewind(t *testing.T) {
	t.Parallel()

	u, err := Create(t.TempDir(), 64)
	require.NoError(t, err)
	defer u.Close()

	_, err = u.Write([]byte("keep"))
	require.NoError(t, err)
	_, err = u.Write([]byte("drop"))
	require.NoError(t, err)
	u.Rewind(4)
	_, err = u.Write([]byte("more"))
	require.NoError(t, err)

	assert.Equal(t, []byte("keepmore"), u.Bytes(Item{CompressedSize: 8}))
}

func TestUnitFinalizeRejectsWrites(t *testing.T) {
	t.Parallel()

	u, err := Create(t.TempDir(), 64)
	require.NoError(t, err)
	defer u.Close()

	require.NoError(t, u.Finalize())
	_, err = u.Write([]byte("late"))
	assert.ErrorIs(t, err, ziptype.ErrFinished)
}

func TestUnitCloseRemovesFile(t *testing.T) {
	t.Parallel()

	u, err := Create(t.TempDir(), 64)
	require.NoError(t, err)
	path := u.Path()

	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

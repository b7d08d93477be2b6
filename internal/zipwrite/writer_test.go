package zipwrite

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/testutil"
	"github.com/meigma/ixzip/internal/zipfmt"
	"github.com/meigma/ixzip/internal/ziptype"
)

func openZip(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	zr.RegisterDecompressor(uint16(ziptype.MethodZstd), func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		require.NoError(t, err)
		return dec.IOReadCloser()
	})
	return zr
}

func readEntry(t *testing.T, f *zip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func loadIndex(t *testing.T, zr *zip.Reader) *index.Index {
	t.Helper()
	last := zr.File[len(zr.File)-1]
	require.Equal(t, ziptype.IndexEntryName, last.Name)
	require.Equal(t, zip.Store, last.Method)
	idx, err := index.Load(readEntry(t, last))
	require.NoError(t, err)
	return idx
}

func TestWriteBytesWithIndex(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	b := index.NewBuilder()
	w := NewWriter(&sink, WithIndex(b))
	require.NoError(t, w.WriteBytes("a.txt", []byte("hi")))
	require.NoError(t, w.Finish(b))
	require.NoError(t, w.Close())

	data := sink.Bytes()
	zr := openZip(t, data)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.txt", zr.File[0].Name)
	assert.Equal(t, []byte("hi"), readEntry(t, zr.File[0]))

	idx := loadIndex(t, zr)
	e, ok := idx.LookupName("a.txt")
	require.True(t, ok)
	assert.EqualValues(t, 2, e.Size)
	assert.Equal(t, []byte("hi"), data[e.Offset:e.Offset+uint64(e.Size)])

	off, ok := w.IndexOffset()
	require.True(t, ok)
	commentOff, ok := zipfmt.ParseIndexComment([]byte(zr.Comment))
	require.True(t, ok)
	assert.Equal(t, off, commentOff)
	assert.Equal(t, uint32(zipfmt.SigLocal), binary.LittleEndian.Uint32(data[off:]))
}

func TestFinishedWriterRejectsEntries(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	require.NoError(t, w.WriteBytes("a", nil))
	require.NoError(t, w.Finish(nil))

	require.ErrorIs(t, w.WriteBytes("b", nil), ziptype.ErrFinished)
	require.ErrorIs(t, w.AddDirectory("d"), ziptype.ErrFinished)
	require.ErrorIs(t, w.Finish(nil), ziptype.ErrFinished)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestCloseFinishesWithoutIndex(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	require.NoError(t, w.WriteBytes("a", []byte("x")))
	require.NoError(t, w.Close())

	zr := openZip(t, sink.Bytes())
	require.Len(t, zr.File, 1)
	assert.Empty(t, zr.Comment)
}

func TestEmptyArchive(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	require.NoError(t, w.Finish(index.NewBuilder()))

	assert.Len(t, sink.Bytes(), zipfmt.EOCDLen)
	_, ok := w.IndexOffset()
	assert.False(t, ok)
	assert.Empty(t, openZip(t, sink.Bytes()).File)
}

func TestAddDirectory(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	b := index.NewBuilder()
	w := NewWriter(&sink, WithIndex(b))
	require.NoError(t, w.AddDirectory("META-INF"))
	require.NoError(t, w.AddDirectory("lib/"))
	require.NoError(t, w.Finish(b))

	zr := openZip(t, sink.Bytes())
	require.Len(t, zr.File, 3)
	assert.Equal(t, "META-INF/", zr.File[0].Name)
	assert.True(t, zr.File[0].Mode().IsDir())
	assert.Equal(t, "lib/", zr.File[1].Name)
	// Directories written by the writer are not indexed as files.
	assert.Equal(t, 0, loadIndex(t, zr).Len())
}

func TestAddRawValidation(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)

	err := w.AddRaw(&ziptype.EntryMeta{Name: "a", Method: ziptype.MethodStored, Size: 3, CompressedSize: 3}, []byte("ab"))
	require.Error(t, err)

	err = w.AddRaw(&ziptype.EntryMeta{Name: "a", Method: ziptype.Method(12), Size: 2, CompressedSize: 2}, []byte("ab"))
	require.ErrorIs(t, err, ziptype.ErrFormat)

	err = w.AddRaw(&ziptype.EntryMeta{Name: "", Method: ziptype.MethodStored}, nil)
	require.Error(t, err)
	assert.Zero(t, w.Count())
}

func TestReservePatch(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	pos, err := w.Reserve("streamed.txt", ziptype.MethodStored, 5)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	// A second reservation cannot start while one is pending.
	_, err = w.Reserve("other", ziptype.MethodStored, 0)
	require.Error(t, err)

	meta := &ziptype.EntryMeta{Name: "streamed.txt", Method: ziptype.MethodStored, Size: 5, CompressedSize: 5, CRC32: 0x3610a686}
	require.Error(t, w.PatchHeaderAt(pos+1, meta))
	require.NoError(t, w.PatchHeaderAt(pos, meta))
	require.NoError(t, w.Close())

	zr := openZip(t, sink.Bytes())
	require.Len(t, zr.File, 1)
	assert.Equal(t, []byte("hello"), readEntry(t, zr.File[0]))
}

func TestPatchDetectsDrift(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	pos, err := w.Reserve("x", ziptype.MethodStored, 4)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	err = w.PatchHeaderAt(pos, &ziptype.EntryMeta{Name: "x", Method: ziptype.MethodStored, Size: 4, CompressedSize: 4})
	require.Error(t, err)
	require.Error(t, w.Finish(nil), "finish must fail with a pending reservation")
}

func TestWriteWithoutReservation(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink)
	_, err := w.Write([]byte("x"))
	require.Error(t, err)
}

func TestIndexRejectsOversizedEntries(t *testing.T) {
	t.Parallel()

	var sink testutil.MemSink
	w := NewWriter(&sink, WithIndex(index.NewBuilder()))
	err := w.checkIndexable(&ziptype.EntryMeta{Name: "big", CompressedSize: math.MaxInt32 + 1})
	require.ErrorIs(t, err, ziptype.ErrSizeOverflow)

	// Directories and the index itself are never recorded.
	require.NoError(t, w.checkIndexable(&ziptype.EntryMeta{Name: "d/", CompressedSize: math.MaxInt32 + 1}))
	require.NoError(t, w.checkIndexable(&ziptype.EntryMeta{Name: ziptype.IndexEntryName, CompressedSize: math.MaxInt32 + 1}))
}

func TestZip64EndRecords(t *testing.T) {
	t.Parallel()

	const n = 70_000
	var sink testutil.MemSink
	b := index.NewBuilder()
	w := NewWriter(&sink, WithIndex(b))
	for i := range n {
		require.NoError(t, w.WriteBytes("f"+strings.Repeat("x", i%7)+"/"+strconv.Itoa(i), nil))
	}
	require.NoError(t, w.Finish(b))

	data := sink.Bytes()
	eocd, err := zipfmt.ParseEOCD(data[len(data)-zipfmt.EOCDLen-5:])
	require.NoError(t, err)
	assert.True(t, eocd.Sentinel())

	loc, ok := zipfmt.ParseLocator(data[len(data)-zipfmt.EOCDLen-5-zipfmt.LocatorLen:])
	require.True(t, ok)
	eocd64, err := zipfmt.ParseEOCD64(data[loc:])
	require.NoError(t, err)
	assert.EqualValues(t, n+1, eocd64.Entries)

	zr := openZip(t, data)
	assert.Len(t, zr.File, n+1)
	assert.Equal(t, n, loadIndex(t, zr).Len())
}

func TestStreamedIncompressibleFileIsStored(t *testing.T) {
	t.Parallel()

	content := testutil.RandomBytes(t, 2<<20)
	path := filepath.Join(t.TempDir(), "random.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	var sink testutil.MemSink
	w := NewWriter(&sink, WithWindowSize(256<<10))
	require.NoError(t, w.File("random.bin", path))
	require.NoError(t, w.Close())

	zr := openZip(t, sink.Bytes())
	require.Len(t, zr.File, 1)
	f := zr.File[0]
	assert.Equal(t, zip.Store, f.Method)
	assert.Equal(t, f.UncompressedSize64, f.CompressedSize64)
	assert.Equal(t, content, readEntry(t, f))
}

func TestStreamedCompressibleFile(t *testing.T) {
	t.Parallel()

	for _, method := range []ziptype.Method{ziptype.MethodDeflate, ziptype.MethodZstd} {
		t.Run(method.String(), func(t *testing.T) {
			t.Parallel()

			content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 100_000)
			path := filepath.Join(t.TempDir(), "text.txt")
			require.NoError(t, os.WriteFile(path, content, 0o600))

			var sink testutil.MemSink
			b := index.NewBuilder()
			w := NewWriter(&sink, WithIndex(b), WithMethod(method), WithWindowSize(64<<10))
			require.NoError(t, w.File("text.txt", path))
			require.NoError(t, w.Finish(b))

			zr := openZip(t, sink.Bytes())
			f := zr.File[0]
			assert.EqualValues(t, method, f.Method)
			assert.Less(t, f.CompressedSize64, f.UncompressedSize64)
			assert.Equal(t, content, readEntry(t, f))

			e, ok := loadIndex(t, zr).LookupName("text.txt")
			require.True(t, ok)
			assert.EqualValues(t, f.CompressedSize64, e.Size)
		})
	}
}

func TestSmallFilesReadWhole(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string][]byte{
		"small.txt": []byte("small"),
		"data.zip":  bytes.Repeat([]byte("z"), 32<<10),
	})

	var sink testutil.MemSink
	w := NewWriter(&sink)
	require.NoError(t, w.File("small.txt", filepath.Join(dir, "small.txt")))
	require.NoError(t, w.File("data.zip", filepath.Join(dir, "data.zip")))
	require.NoError(t, w.Close())

	zr := openZip(t, sink.Bytes())
	require.Len(t, zr.File, 2)
	for _, f := range zr.File {
		// Below the compress threshold or already compressed by extension.
		assert.Equal(t, zip.Store, f.Method, f.Name)
	}
	assert.Equal(t, []byte("small"), readEntry(t, zr.File[0]))
}

func TestWriteBytesCompresses(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("abcd"), 8<<10)
	var sink testutil.MemSink
	w := NewWriter(&sink)
	require.NoError(t, w.WriteBytes("a.txt", content))
	require.NoError(t, w.WriteBytes("r.bin", testutil.RandomBytes(t, 16<<10)))
	require.NoError(t, w.Close())

	zr := openZip(t, sink.Bytes())
	assert.Equal(t, zip.Deflate, zr.File[0].Method)
	assert.Equal(t, content, readEntry(t, zr.File[0]))
	assert.Equal(t, zip.Store, zr.File[1].Method)
}

func TestSinkErrorsPropagate(t *testing.T) {
	t.Parallel()

	sink := &testutil.FailingSink{Limit: 10, Err: io.ErrClosedPipe}
	w := NewWriter(sink)
	require.ErrorIs(t, w.WriteBytes("a-long-name.txt", []byte("x")), io.ErrClosedPipe)
}

func TestFailedStreamPoisonsWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "random.bin")
	require.NoError(t, os.WriteFile(path, testutil.RandomBytes(t, 512<<10), 0o600))

	sink := &testutil.FailingSink{Limit: 100 << 10, Err: io.ErrClosedPipe}
	w := NewWriter(sink, WithWindowSize(64<<10), WithLargeThreshold(1))
	err := w.File("random.bin", path)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Empty(t, w.pending)
	assert.Zero(t, w.Count())

	// Every later call reports the same failure.
	err = w.WriteBytes("next.txt", []byte("next"))
	require.ErrorIs(t, err, ziptype.ErrFinished)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	_, err = w.Reserve("next.txt", ziptype.MethodStored, 4)
	require.ErrorIs(t, err, ziptype.ErrFinished)
	require.ErrorIs(t, w.Finish(nil), io.ErrClosedPipe)

	written := len(sink.Bytes())
	require.NoError(t, w.Close())
	assert.Len(t, sink.Bytes(), written, "close must not append a directory")
}

package file

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ixzip/internal/ziptype"
)

func TestEncoderRoundTrip(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("round trip payload "), 512)
	pool := NewDecompressPool(0)

	for _, method := range []ziptype.Method{ziptype.MethodDeflate, ziptype.MethodZstd} {
		t.Run(method.String(), func(t *testing.T) {
			t.Parallel()

			enc, err := NewEncoder(method, 6)
			require.NoError(t, err)

			// Encoders are reused; the second stream must be independent.
			for range 2 {
				var compressed bytes.Buffer
				enc.Reset(&compressed)
				_, err = enc.Write(content)
				require.NoError(t, err)
				require.NoError(t, enc.Close())
				assert.Less(t, compressed.Len(), len(content))

				dec, release, err := pool.Get(method, bytes.NewReader(compressed.Bytes()))
				require.NoError(t, err)
				got, err := io.ReadAll(dec)
				release()
				require.NoError(t, err)
				assert.Equal(t, content, got)
			}
		})
	}
}

func TestDecompressPoolUnsupported(t *testing.T) {
	t.Parallel()

	pool := NewDecompressPool(0)
	_, _, err := pool.Get(ziptype.Method(12), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ziptype.ErrFormat)

	_, err = NewEncoder(ziptype.MethodStored, 0)
	assert.ErrorIs(t, err, ziptype.ErrFormat)
}

func TestCountingWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}
	_, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = cw.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), cw.N)

	cw.N = ^uint64(0) - 1
	_, err = cw.Write([]byte("xx"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestBufferRelease(t *testing.T) {
	t.Parallel()

	b := GetBuffer()
	b.WriteString("data")
	assert.Equal(t, 4, b.Len())
	b.Release()
	b.Release()

	again := GetBuffer()
	defer again.Release()
	assert.Equal(t, 0, again.Len())
}

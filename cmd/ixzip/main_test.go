package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ixzip/internal/testutil"
)

func runCmd(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCreateListLookupExtract(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string][]byte{
		"com/example/App.class": []byte("class bytes"),
		"conf/app.properties":   []byte("a=b\n"),
	})
	archive := filepath.Join(t.TempDir(), "app.zip")

	code, stdout, stderr := runCmd(t, "create", "-method", "zstd", "-workers", "2", "-scratch-dir", t.TempDir(), archive, src+"=lib")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 files")
	assert.Contains(t, stdout, "sha256:")

	code, stdout, stderr = runCmd(t, "list", archive)
	require.Equal(t, 0, code, stderr)
	lines := strings.Fields(stdout)
	assert.Contains(t, lines, "lib/com/example/App.class")
	assert.Contains(t, lines, "lib/conf/")

	code, stdout, stderr = runCmd(t, "list", "-l", archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "METHOD")

	code, stdout, _ = runCmd(t, "lookup", archive, "lib/conf/app.properties", "lib/conf", "lib/com/example/")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "lib/conf/app.properties\toffset=")
	assert.Contains(t, stdout, "lib/conf\tdirectory")
	assert.Contains(t, stdout, "lib/com/example/\tclasses=true resources=false")

	code, stdout, stderr = runCmd(t, "lookup", archive, "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "nope\tnot found")
	assert.Contains(t, stderr, "not found")

	dest := t.TempDir()
	code, _, stderr = runCmd(t, "extract", archive, dest)
	require.Equal(t, 0, code, stderr)
	got, err := os.ReadFile(filepath.Join(dest, "lib", "conf", "app.properties"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a=b\n"), got)
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"frobnicate"}, 2},
		{"missing args", []string{"create", "out.zip"}, 2},
		{"bad flag", []string{"list", "-nope", "a.zip"}, 2},
		{"bad method", []string{"create", "-method", "lzma", "out.zip", "."}, 1},
		{"missing archive", []string{"list", filepath.Join(t.TempDir(), "missing.zip")}, 1},
		{"help", []string{"help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, _, _ := runCmd(t, tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dir", parseSource("dir").Dir)
	assert.Empty(t, parseSource("dir").Prefix)
	s := parseSource("build/classes=BOOT-INF/classes")
	assert.Equal(t, "build/classes", s.Dir)
	assert.Equal(t, "BOOT-INF/classes", s.Prefix)
}

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDir(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a.txt":         "",
		"pkg/a.class":   "pkg",
		"a/b/c/d.txt":   "a/b/c",
		"a/b/":          "a",
		"":              "",
		"META-INF/x.MF": "META-INF",
	}
	for in, want := range tests {
		assert.Equal(t, want, Dir(in), "Dir(%q)", in)
	}
}

func TestBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", Base(""))
	assert.Equal(t, "c.txt", Base("a/b/c.txt"))
	assert.Equal(t, "b", Base("a/b/"))
}

func TestDirPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", DirPrefix("."))
	assert.Equal(t, "", DirPrefix(""))
	assert.Equal(t, "a/", DirPrefix("a"))
	assert.Equal(t, "a/", DirPrefix("a/"))
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "x.txt", Join("", "x.txt"))
	assert.Equal(t, "lib/x.txt", Join("lib/", "x.txt"))
	assert.Equal(t, "lib/x.txt", Join("/lib", "/x.txt"))
	assert.Equal(t, "lib", Join("lib", "."))
}

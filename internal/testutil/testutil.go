// Package testutil provides in-memory sinks and fixture helpers for tests.
package testutil

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// MemSink is an in-memory io.Writer and io.WriterAt.
type MemSink struct {
	mu   sync.Mutex
	data []byte
}

// Write appends p.
func (m *MemSink) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, p...)
	return len(p), nil
}

// WriteAt overwrites bytes at off, extending the buffer if needed.
func (m *MemSink) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := int(off) + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	copy(m.data[off:], p)
	return len(p), nil
}

// Bytes returns the written bytes.
func (m *MemSink) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// FailingSink fails every write after the first Limit bytes.
type FailingSink struct {
	MemSink
	Limit int
	Err   error
}

// Write implements io.Writer.
func (f *FailingSink) Write(p []byte) (int, error) {
	if len(f.Bytes())+len(p) > f.Limit {
		return 0, f.Err
	}
	return f.MemSink.Write(p)
}

// RandomBytes returns n bytes of incompressible data.
func RandomBytes(tb testing.TB, n int) []byte {
	tb.Helper()
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		tb.Fatalf("read random bytes: %v", err)
	}
	return b
}

// WriteFiles creates files under dir from a name-to-content map.
// Names are slash-separated.
func WriteFiles(tb testing.TB, dir string, files map[string][]byte) {
	tb.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			tb.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, content, 0o600); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
}

package file

import (
	"bytes"
	"sync"
)

// maxPooledBuffer caps the capacity of buffers returned to the pool so one
// huge entry does not pin its memory for the life of the process.
const maxPooledBuffer = 64 << 20

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Buffer is a pooled growable byte buffer.
//
// Acquire a Buffer with GetBuffer and call Release exactly once on every
// exit path. The contents must not be used after Release.
type Buffer struct {
	*bytes.Buffer
}

// GetBuffer returns an empty buffer from the pool.
func GetBuffer() *Buffer {
	b, _ := bufferPool.Get().(*bytes.Buffer) //nolint:errcheck // pool only holds *bytes.Buffer
	if b == nil {
		b = new(bytes.Buffer)
	}
	b.Reset()
	return &Buffer{Buffer: b}
}

// Release returns the buffer to the pool. Release is idempotent.
func (b *Buffer) Release() {
	if b == nil || b.Buffer == nil {
		return
	}
	if b.Cap() <= maxPooledBuffer {
		bufferPool.Put(b.Buffer)
	}
	b.Buffer = nil
}

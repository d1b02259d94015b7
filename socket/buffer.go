// File: socket/buffer.go
// Author: momentics <momentics@gmail.com>

package socket

import "sync"

// DefaultReadBufferSize is the read buffer size used when none is configured.
const DefaultReadBufferSize = 16 * 1024

// BufferPool recycles fixed-size read buffers.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	b := &BufferPool{size: size}
	b.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the buffer size.
func (b *BufferPool) Size() int { return b.size }

// GetBuffer returns a buffer from the pool.
func (b *BufferPool) GetBuffer() []byte {
	return *(b.pool.Get().(*[]byte))
}

// PutBuffer returns a buffer to the pool. Foreign-sized buffers are dropped.
func (b *BufferPool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	buf = buf[:b.size]
	b.pool.Put(&buf)
}

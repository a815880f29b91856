// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake buffer and buffer pool implementations for testing.

package fake

import (
	"sync"

	"github.com/momentics/hioload-srv/api"
)

// Buffer is a fake implementation of api.Buffer.
type Buffer struct {
	pool     *BufferPool
	data     []byte
	released bool
	mu       sync.Mutex
}

// Bytes returns the buffer region, or nil after Release.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	return b.data
}

// Release returns the buffer to its pool. Calling it twice is a no-op.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.data = nil
	b.pool.put()
}

// Pooled always reports true.
func (b *Buffer) Pooled() bool { return true }

// BufferPool is a fake implementation of api.BufferPool that counts
// outstanding buffers.
type BufferPool struct {
	mu        sync.Mutex
	size      int
	allocated int64
	freed     int64
}

var _ api.BufferPool = (*BufferPool)(nil)

// NewBufferPool creates a new fake buffer pool handing out size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{size: size}
}

// Get returns a fresh buffer.
func (p *BufferPool) Get() api.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated++
	return &Buffer{pool: p, data: make([]byte, p.size)}
}

func (p *BufferPool) put() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freed++
}

// InUse returns the number of buffers not yet released.
func (p *BufferPool) InUse() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated - p.freed
}

// Stats implements api.BufferPool.
func (p *BufferPool) Stats() api.BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.BufferPoolStats{
		SlotSize:   p.size,
		InUse:      p.allocated - p.freed,
		TotalAlloc: p.allocated,
		TotalFree:  p.freed,
	}
}

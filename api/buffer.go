// Package api
// Author: momentics
//
// Pooled memory regions used for receive operations.
// A connection holds one buffer for its lifetime and returns it on close.

package api

// Buffer describes a pooled memory region.
type Buffer interface {
	// Bytes returns the full writable region.
	Bytes() []byte

	// Release returns the buffer to its pool.
	// After Release, buffer must not be used. Calling it twice is a no-op.
	Release()

	// Pooled reports whether the region came from a pre-sliced arena slot
	// rather than an overflow heap allocation.
	Pooled() bool
}

// BufferPool abstracts memory region management for buffers.
type BufferPool interface {
	// Get returns a buffer of exactly the pool's slot size.
	Get() Buffer

	// Stats exposes resource/accounting metrics for observability.
	Stats() BufferPoolStats
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	SlotSize   int
	Slots      int
	InUse      int64
	TotalAlloc int64
	TotalFree  int64
	Overflow   int64
}

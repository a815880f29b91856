// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pre-sliced receive arena. One contiguous region is cut into fixed-size
// slots; free slot indexes live in a buffered channel so that Get and
// Release are atomic across connections without a lock.

package pool

import (
	"go.uber.org/atomic"

	"github.com/momentics/hioload-srv/api"
)

// Arena is a fixed-slot buffer pool.
type Arena struct {
	slotSize int
	slots    int
	mem      []byte
	free     chan int

	inUse      atomic.Int64
	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	overflow   atomic.Int64
}

var _ api.BufferPool = (*Arena)(nil)

// NewArena allocates slots*slotSize bytes up front.
func NewArena(slotSize, slots int) *Arena {
	if slotSize <= 0 {
		slotSize = 4096
	}
	if slots <= 0 {
		slots = 1
	}
	a := &Arena{
		slotSize: slotSize,
		slots:    slots,
		mem:      make([]byte, slotSize*slots),
		free:     make(chan int, slots),
	}
	for i := 0; i < slots; i++ {
		a.free <- i
	}
	return a
}

// SlotSize returns the size of every buffer handed out.
func (a *Arena) SlotSize() int { return a.slotSize }

// Get takes a free slot. When the arena is exhausted it falls back to a heap
// allocation that is dropped on Release.
func (a *Arena) Get() api.Buffer {
	a.inUse.Inc()
	a.totalAlloc.Inc()
	select {
	case slot := <-a.free:
		off := slot * a.slotSize
		// full slice expression caps the slot so appends cannot spill into a neighbour
		return &arenaBuffer{arena: a, slot: slot, data: a.mem[off : off+a.slotSize : off+a.slotSize]}
	default:
		a.overflow.Inc()
		return &arenaBuffer{arena: a, slot: -1, data: make([]byte, a.slotSize)}
	}
}

func (a *Arena) put(b *arenaBuffer) {
	a.inUse.Dec()
	a.totalFree.Inc()
	if b.slot < 0 {
		return
	}
	select {
	case a.free <- b.slot:
	default:
	}
}

// Stats returns a point-in-time view of arena usage.
func (a *Arena) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		SlotSize:   a.slotSize,
		Slots:      a.slots,
		InUse:      a.inUse.Load(),
		TotalAlloc: a.totalAlloc.Load(),
		TotalFree:  a.totalFree.Load(),
		Overflow:   a.overflow.Load(),
	}
}

// arenaBuffer implements api.Buffer over one arena slot.
type arenaBuffer struct {
	arena    *Arena
	slot     int
	data     []byte
	released atomic.Bool
}

// Bytes returns the data slice.
func (b *arenaBuffer) Bytes() []byte { return b.data }

// Pooled reports whether the buffer is backed by an arena slot.
func (b *arenaBuffer) Pooled() bool { return b.slot >= 0 }

// Release returns the buffer to the arena.
func (b *arenaBuffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	b.arena.put(b)
	b.data = nil
}

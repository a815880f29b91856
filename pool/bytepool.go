// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "math/bits"

// BytePool recycles byte slices in power-of-two size classes between
// minSize and maxSize. Larger requests are plain allocations.
type BytePool struct {
	minShift int
	classes  []*SyncPool[*[]byte]
}

// NewBytePool builds the size classes covering [minSize, maxSize].
func NewBytePool(minSize, maxSize int) *BytePool {
	if minSize <= 0 {
		minSize = 64
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	minShift := shiftFor(minSize)
	maxShift := shiftFor(maxSize)
	b := &BytePool{minShift: minShift}
	for s := minShift; s <= maxShift; s++ {
		size := 1 << s
		b.classes = append(b.classes, NewSyncPool(
			func() *[]byte {
				buf := make([]byte, size)
				return &buf
			}, nil))
	}
	return b
}

// shiftFor returns the smallest s with 1<<s >= n.
func shiftFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func (b *BytePool) class(size int) int {
	i := shiftFor(size) - b.minShift
	if i < 0 {
		i = 0
	}
	return i
}

// Get returns a slice of length n.
func (b *BytePool) Get(n int) []byte {
	i := b.class(n)
	if i >= len(b.classes) {
		return make([]byte, n)
	}
	return (*b.classes[i].Get())[:n]
}

// Put recycles buf. Slices whose capacity is not exactly a class size are
// left to the GC.
func (b *BytePool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	i := b.class(c)
	if i >= len(b.classes) || 1<<(i+b.minShift) != c {
		return
	}
	buf = buf[:c]
	b.classes[i].Put(&buf)
}

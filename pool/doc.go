// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-srv.
// Arena hands out pre-sliced receive buffers, one per connection, so the
// receive loop never allocates per read. BytePool recycles variable sized
// slices in power-of-two classes, used for datagram payloads. SyncPool is a
// typed sync.Pool used for short-lived scratch objects such as write batches.
// See arena.go, bytepool.go and objpool.go for implementation details.
package pool

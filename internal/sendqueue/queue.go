// File: internal/sendqueue/queue.go
// Package sendqueue serializes outbound writes of one connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Producers append from any goroutine. A single drain goroutine exists while
// the queue is Sending; it takes everything queued so far and hands it to the
// writer as one gathered write, then repeats until the queue is empty.

package sendqueue

import (
	"net"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/pool"
)

// State of the queue.
type State int32

const (
	Idle State = iota
	Sending
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Writer performs one gathered write. It may consume bufs.
type Writer func(bufs *net.Buffers) (int64, error)

var batches = pool.NewSyncPool(
	func() *net.Buffers { b := make(net.Buffers, 0, 16); return &b },
	func(b *net.Buffers) *net.Buffers {
		clear(*b)
		*b = (*b)[:0]
		return b
	},
)

// Queue is the bounded outbound FIFO of a single connection.
type Queue struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	state    State
	space    chan struct{}

	write   Writer
	onWrite func(n int64)
	onError func(err error)
}

// Option configures a Queue.
type Option func(*Queue)

// WithWriteHook is called after every successful drain with the bytes written.
func WithWriteHook(fn func(n int64)) Option {
	return func(q *Queue) { q.onWrite = fn }
}

// WithErrorHook is called once when a write fails. The queue is already
// Closed at that point.
func WithErrorHook(fn func(err error)) Option {
	return func(q *Queue) { q.onError = fn }
}

// New creates a queue holding at most capacity pending payloads.
func New(capacity int, write Writer, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		items:    queue.New(),
		capacity: capacity,
		write:    write,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends data and starts a drain when the queue was Idle. The queue
// keeps a reference to data until it is written.
//
// When the queue is full nothing is appended and the returned channel is
// closed as soon as space may be available. A nil channel with a nil error
// means data was accepted.
func (q *Queue) Enqueue(data []byte) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == Closed {
		return nil, api.ErrConnectionClosed
	}
	if q.items.Length() >= q.capacity {
		if q.space == nil {
			q.space = make(chan struct{})
		}
		return q.space, nil
	}
	q.items.Add(data)
	if q.state == Idle {
		q.state = Sending
		go q.drain()
	}
	return nil, nil
}

// State returns the current state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of payloads waiting for the next drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close drops pending payloads and wakes blocked producers. It returns the
// number of payloads dropped. A write already in progress is not interrupted.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Closed {
		return 0
	}
	q.state = Closed
	dropped := q.items.Length()
	for q.items.Length() > 0 {
		q.items.Remove()
	}
	q.signalLocked()
	return dropped
}

func (q *Queue) signalLocked() {
	if q.space != nil {
		close(q.space)
		q.space = nil
	}
}

func (q *Queue) drain() {
	bp := batches.Get()
	defer batches.Put(bp)

	for {
		q.mu.Lock()
		if q.state == Closed {
			q.mu.Unlock()
			return
		}
		if q.items.Length() == 0 {
			q.state = Idle
			q.mu.Unlock()
			return
		}
		batch := (*bp)[:0]
		for q.items.Length() > 0 {
			batch = append(batch, q.items.Remove().([]byte))
		}
		q.signalLocked()
		q.mu.Unlock()

		pending := batch
		n, err := q.write(&pending)
		clear(batch)
		*bp = batch[:0]

		if err != nil {
			q.mu.Lock()
			closed := q.state == Closed
			q.state = Closed
			for q.items.Length() > 0 {
				q.items.Remove()
			}
			q.signalLocked()
			q.mu.Unlock()
			if !closed && q.onError != nil {
				q.onError(err)
			}
			return
		}
		if q.onWrite != nil {
			q.onWrite(n)
		}
	}
}

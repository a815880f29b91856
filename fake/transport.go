// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport contracts.

package fake

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// Addr is a fixed net.Addr.
type Addr struct {
	Net, Str string
}

func (a Addr) Network() string { return a.Net }
func (a Addr) String() string  { return a.Str }

// Conn is a scripted net.Conn. Every AddRecvData call is returned by exactly
// one Read when the caller's buffer is large enough. Writes are captured.
type Conn struct {
	mu         sync.Mutex
	cond       *sync.Cond
	recvBuffer [][]byte
	sent       bytes.Buffer
	writes     int
	eof        bool
	closed     bool
	recvError  error
	sendError  error
	closeError error
	sendGate   chan struct{}
	local      net.Addr
	remote     net.Addr
}

var _ net.Conn = (*Conn)(nil)

// NewConn creates a fake connection with the given remote address.
func NewConn(remote string) *Conn {
	c := &Conn{
		local:  Addr{Net: "fake", Str: "local:0"},
		remote: Addr{Net: "fake", Str: remote},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Read blocks until scripted data, a scripted error or Close.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.recvBuffer) == 0 && !c.eof && c.recvError == nil && !c.closed {
		c.cond.Wait()
	}
	switch {
	case c.closed:
		return 0, net.ErrClosed
	case len(c.recvBuffer) > 0:
		n := copy(p, c.recvBuffer[0])
		if n < len(c.recvBuffer[0]) {
			c.recvBuffer[0] = c.recvBuffer[0][n:]
		} else {
			c.recvBuffer = c.recvBuffer[1:]
		}
		return n, nil
	case c.recvError != nil:
		return 0, c.recvError
	default:
		return 0, io.EOF
	}
}

// Write records p unless a send error or gate is configured.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	gate := c.sendGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.sendError != nil {
		return 0, c.sendError
	}
	c.writes++
	return c.sent.Write(p)
}

// Close unblocks pending reads.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return c.closeError
}

func (c *Conn) LocalAddr() net.Addr              { return c.local }
func (c *Conn) RemoteAddr() net.Addr             { return c.remote }
func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// AddRecvData queues data for a later Read.
func (c *Conn) AddRecvData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvBuffer = append(c.recvBuffer, bytes.Clone(data))
	c.cond.Broadcast()
}

// CloseRead makes Read return io.EOF once queued data is consumed.
func (c *Conn) CloseRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
	c.cond.Broadcast()
}

// SetRecvError makes Read fail with err once queued data is consumed.
func (c *Conn) SetRecvError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvError = err
	c.cond.Broadcast()
}

// SetSendError configures the conn to return an error on Write.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendError = err
}

// SetCloseError configures the conn to return an error on Close.
func (c *Conn) SetCloseError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeError = err
}

// HoldWrites blocks every Write until the returned func is called.
func (c *Conn) HoldWrites() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.sendGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.sendGate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Sent returns a copy of everything written so far.
func (c *Conn) Sent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.sent.Bytes())
}

// Writes returns the number of successful Write calls.
func (c *Conn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// File: connection/connection.go
// Package connection owns one transport: the receive loop that drives the
// pipeline filter, the single-flight send path and the close protocol.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/internal/sendqueue"
)

// Connection wraps a byte-oriented transport.
type Connection struct {
	conn   net.Conn
	opts   Options
	filter api.PipelineFilter
	queue  *sendqueue.Queue
	log    *zap.Logger

	state   atomic.Int32
	reason  atomic.Int32
	started atomic.Bool
	done    chan struct{}
}

// New wraps conn. The connection stays Initialized until Open or Start.
func New(conn net.Conn, opts Options) *Connection {
	if opts.Filter == nil {
		panic("connection: nil pipeline filter")
	}
	opts.setDefaults()
	c := &Connection{
		conn:   conn,
		opts:   opts,
		filter: opts.Filter,
		log:    opts.Logger.With(zap.Stringer("remote", conn.RemoteAddr())),
		done:   make(chan struct{}),
	}
	c.queue = sendqueue.New(opts.SendingQueueSize,
		func(bufs *net.Buffers) (int64, error) { return bufs.WriteTo(conn) },
		sendqueue.WithWriteHook(func(n int64) {
			opts.OnActivity()
			opts.OnSent(n)
		}),
		sendqueue.WithErrorHook(func(err error) {
			c.log.Debug("send failed", zap.Error(err))
			c.Close(api.CloseSocketError)
		}),
	)
	return c
}

// Open moves the connection to Connected so it accepts sends. Nothing is
// read until Start.
func (c *Connection) Open() error {
	if !c.state.CompareAndSwap(int32(api.ConnInitialized), int32(api.ConnConnected)) {
		return fmt.Errorf("open connection in state %s: %w", c.State(), api.ErrConnectionClosed)
	}
	return nil
}

// Start opens the connection if needed and launches the receive loop once.
func (c *Connection) Start() error {
	if c.State() == api.ConnInitialized {
		if err := c.Open(); err != nil {
			return err
		}
	}
	if c.State() != api.ConnConnected {
		return fmt.Errorf("start connection in state %s: %w", c.State(), api.ErrConnectionClosed)
	}
	if c.started.Swap(true) {
		return fmt.Errorf("start connection: %w", api.ErrAlreadyExists)
	}
	go c.receive(c.opts.Pool.Get())
	return nil
}

// State returns the current lifecycle state.
func (c *Connection) State() api.ConnectionState { return api.ConnectionState(c.state.Load()) }

// CloseReason returns the terminating reason once Done is closed.
func (c *Connection) CloseReason() api.CloseReason { return api.CloseReason(c.reason.Load()) }

// Done is closed when the connection reached Closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// LocalAddr returns the local transport address.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send queues data for writing, waiting for room in the sending queue until
// the send timeout or ctx expires. data must not be modified afterwards.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.State() != api.ConnConnected {
		return api.ErrConnectionClosed
	}
	if d := c.opts.SendTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	for {
		wait, err := c.queue.Enqueue(data)
		if err != nil {
			return err
		}
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", api.ErrSendTimeout, ctx.Err())
			}
			return ctx.Err()
		}
	}
}

// TrySend queues data without waiting. It reports false when the connection
// is not Connected or the sending queue is full.
func (c *Connection) TrySend(data []byte) bool {
	if c.State() != api.ConnConnected {
		return false
	}
	wait, err := c.queue.Enqueue(data)
	return err == nil && wait == nil
}

// Close terminates the connection. Only the first call has an effect; it
// fails pending sends, closes the transport and fires OnClose with reason.
func (c *Connection) Close(reason api.CloseReason) {
	for {
		s := c.state.Load()
		if s >= int32(api.ConnClosing) {
			return
		}
		if c.state.CompareAndSwap(s, int32(api.ConnClosing)) {
			break
		}
	}
	c.reason.Store(int32(reason))

	if n := c.queue.Close(); n > 0 {
		c.log.Debug("pending sends dropped", zap.Int("count", n))
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Debug("transport close", zap.Error(err))
	}

	fields := []zap.Field{zap.Stringer("reason", reason)}
	if reason.IsError() {
		c.log.Warn("connection closed", fields...)
	} else {
		c.log.Debug("connection closed", fields...)
	}

	c.state.Store(int32(api.ConnClosed))
	close(c.done)
	c.opts.OnClose(reason)
}

// receive owns buf until the loop exits. Close may run concurrently from
// another goroutine; closing the transport unblocks the pending read.
func (c *Connection) receive(buf api.Buffer) {
	defer buf.Release()
	region := buf.Bytes()
	for {
		n, err := c.conn.Read(region)
		if n > 0 {
			c.opts.OnActivity()
			c.opts.OnReceived(n)
			if reason, ok := c.process(region[:n]); !ok {
				c.Close(reason)
				return
			}
		}
		if err != nil {
			c.Close(readCloseReason(err))
			return
		}
		if n == 0 {
			c.Close(api.CloseClientClosing)
			return
		}
	}
}

// process drives the filter chain over one window. It reports false when the
// connection must stop reading, with the reason to close for.
func (c *Connection) process(window []byte) (api.CloseReason, bool) {
	for len(window) > 0 {
		d, err := c.filter.Filter(window)
		if err != nil {
			c.log.Warn("decode failed", zap.Error(err))
			return api.CloseProtocolError, false
		}
		if d.Consumed <= 0 || d.Consumed > len(window) {
			c.log.Warn("filter consumed out of range",
				zap.Int("consumed", d.Consumed), zap.Int("window", len(window)))
			return api.CloseProtocolError, false
		}
		if d.Next != nil {
			c.filter = d.Next
		}
		if d.Package != nil {
			c.opts.OnPackage(d.Package)
			if c.State() != api.ConnConnected {
				return c.CloseReason(), false
			}
		}
		if left := c.filter.LeftBufferSize(); left > c.opts.MaxRequestLength {
			c.log.Warn("request too large",
				zap.Int("buffered", left), zap.Int("max", c.opts.MaxRequestLength),
				zap.Error(api.ErrRequestTooLarge))
			return api.CloseProtocolError, false
		}
		window = window[d.Consumed:]
	}
	return 0, true
}

func readCloseReason(err error) api.CloseReason {
	if errors.Is(err, io.EOF) {
		return api.CloseClientClosing
	}
	return api.CloseSocketError
}

// File: session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Base session implementation backed by a connection.

package session

import (
	"context"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-srv/api"
)

// Connection is the transport side a session drives.
// *connection.Connection satisfies it.
type Connection interface {
	Start() error
	Send(ctx context.Context, data []byte) error
	TrySend(data []byte) bool
	Close(reason api.CloseReason)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Factory lets applications wrap the base session in their own type.
// The returned value is what handlers and the registry see.
type Factory func(base *Session) api.Session

// DefaultFactory returns the base session unchanged.
func DefaultFactory(base *Session) api.Session { return base }

// NewID returns a fresh session identifier.
func NewID() string { return uuid.NewString() }

// Session is the base api.Session.
type Session struct {
	id         string
	conn       Connection
	clock      clock.Clock
	start      time.Time
	lastActive atomic.Int64
	state      atomic.Int32
	reason     atomic.Int32
	items      *items
	done       chan struct{}
}

var _ api.Session = (*Session)(nil)

// New creates an Initialized session around conn.
func New(id string, conn Connection, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	s := &Session{
		id:    id,
		conn:  conn,
		clock: clk,
		start: now,
		items: newItems(clk),
		done:  make(chan struct{}),
	}
	s.lastActive.Store(now.UnixNano())
	s.state.Store(int32(api.SessionInitialized))
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) StartTime() time.Time { return s.start }
func (s *Session) Items() api.Items     { return s.items }
func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LastActiveTime is the time of the last successful receive or send.
func (s *Session) LastActiveTime() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity now.
func (s *Session) Touch() {
	s.lastActive.Store(s.clock.Now().UnixNano())
}

// State returns the lifecycle state.
func (s *Session) State() api.SessionState { return api.SessionState(s.state.Load()) }

// Connected moves an Initialized session to Connected.
func (s *Session) Connected() bool {
	return s.state.CompareAndSwap(int32(api.SessionInitialized), int32(api.SessionConnected))
}

// Start begins reading from the connection.
func (s *Session) Start() error { return s.conn.Start() }

// Send queues data on the connection.
func (s *Session) Send(ctx context.Context, data []byte) error { return s.conn.Send(ctx, data) }

// TrySend queues data without waiting.
func (s *Session) TrySend(data []byte) bool { return s.conn.TrySend(data) }

// Close asks the connection to close. The session reaches Closed through
// the connection's close notification.
func (s *Session) Close(reason api.CloseReason) { s.conn.Close(reason) }

// CloseReason is valid once Done is closed.
func (s *Session) CloseReason() api.CloseReason { return api.CloseReason(s.reason.Load()) }

// Done is closed when the session reached Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// MarkClosed records the terminating reason and moves the session to Closed.
// It reports true only for the first call.
func (s *Session) MarkClosed(reason api.CloseReason) bool {
	for {
		cur := s.state.Load()
		if cur == int32(api.SessionClosed) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(api.SessionClosed)) {
			break
		}
	}
	s.reason.Store(int32(reason))
	close(s.done)
	return true
}

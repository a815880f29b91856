// File: api/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application-facing session contract.

package api

import (
	"context"
	"net"
	"time"
)

// Items is a small concurrent key/value bag for application data.
type Items interface {
	Set(key string, value any)
	Get(key string) (any, bool)
	Delete(key string)
	// WithExpiration sets a TTL for an existing key.
	WithExpiration(key string, ttl time.Duration)
	Keys() []string
}

// Session abstracts per-connection application state.
type Session interface {
	ID() string
	StartTime() time.Time
	LastActiveTime() time.Time
	State() SessionState
	Items() Items

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Send queues data, waiting up to the configured send timeout for room.
	Send(ctx context.Context, data []byte) error
	// TrySend queues data without waiting.
	TrySend(data []byte) bool

	// Close requests termination; the close notification carries reason.
	Close(reason CloseReason)
	// CloseReason is valid once Done is closed.
	CloseReason() CloseReason
	// Done is closed when the session reached SessionClosed.
	Done() <-chan struct{}
}

// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Transport collaborators consumed by the engine.

package api

import (
	"context"
	"net"
)

// Listener accepts raw transports.
type Listener interface {
	// Accept blocks until a transport is available. After Stop it returns
	// an error wrapping ErrListenerClosed.
	Accept() (net.Conn, error)
	Stop() error
	Addr() net.Addr
}

// Negotiator upgrades a raw transport into a byte-oriented duplex stream,
// e.g. by running a TLS handshake.
type Negotiator interface {
	Negotiate(ctx context.Context, raw net.Conn) (net.Conn, error)
}

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-srv/api"
)

// TLSNegotiator runs a TLS handshake on accepted (or dialed) connections.
type TLSNegotiator struct {
	Config *tls.Config
	// Client selects the client side of the handshake for outbound connections.
	Client bool
	// Timeout bounds the handshake when ctx carries no deadline.
	Timeout time.Duration
}

var _ api.Negotiator = (*TLSNegotiator)(nil)

// Negotiate performs the handshake and returns the encrypted stream.
// raw is closed on failure.
func (n *TLSNegotiator) Negotiate(ctx context.Context, raw net.Conn) (net.Conn, error) {
	if n.Config == nil {
		raw.Close()
		return nil, fmt.Errorf("tls negotiate: %w: nil config", api.ErrInvalidArgument)
	}
	if _, ok := ctx.Deadline(); !ok && n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	var conn *tls.Conn
	if n.Client {
		conn = tls.Client(raw, n.Config)
	} else {
		conn = tls.Server(raw, n.Config)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", raw.RemoteAddr(), err)
	}
	return conn, nil
}

// NegotiatorFunc adapts a function to api.Negotiator.
type NegotiatorFunc func(ctx context.Context, raw net.Conn) (net.Conn, error)

// Negotiate calls f.
func (f NegotiatorFunc) Negotiate(ctx context.Context, raw net.Conn) (net.Conn, error) {
	return f(ctx, raw)
}

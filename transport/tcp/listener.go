// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides a TCP listener/acceptor implementing api.Listener.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-srv/api"
)

// Config holds socket options for listeners and dialers.
type Config struct {
	// ReuseAddr and ReusePort set SO_REUSEADDR and SO_REUSEPORT before bind.
	ReuseAddr bool
	ReusePort bool
	// NoDelay disables Nagle on accepted connections.
	NoDelay bool
	// KeepAlive period; zero uses the Go default, negative disables it.
	KeepAlive time.Duration
	// ReceiveBufferSize and SendBufferSize set SO_RCVBUF and SO_SNDBUF when positive.
	ReceiveBufferSize int
	SendBufferSize    int
}

// DefaultConfig returns the options used when none are given.
func DefaultConfig() Config {
	return Config{ReuseAddr: true, NoDelay: true}
}

// Listener accepts TCP connections.
type Listener struct {
	ln       net.Listener
	cfg      Config
	stopOnce sync.Once
	stopped  chan struct{}
}

var _ api.Listener = (*Listener)(nil)

// Listen binds addr.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	lc := net.ListenConfig{Control: control(cfg), KeepAlive: cfg.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, cfg: cfg, stopped: make(chan struct{})}, nil
}

// Accept waits for the next connection and applies per-connection options.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		select {
		case <-l.stopped:
			return nil, fmt.Errorf("tcp accept: %w", api.ErrListenerClosed)
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("tcp accept: %w: %w", api.ErrListenerClosed, err)
		}
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		applyConnOptions(tc, l.cfg)
	}
	return conn, nil
}

// Stop closes the listening socket. Calling it again is a no-op.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopped)
		err = l.ln.Close()
	})
	return err
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Dial opens an outbound connection with the same socket options.
func Dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	d := net.Dialer{Control: control(cfg), KeepAlive: cfg.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		applyConnOptions(tc, cfg)
	}
	return conn, nil
}

func applyConnOptions(tc *net.TCPConn, cfg Config) {
	_ = tc.SetNoDelay(cfg.NoDelay)
	if cfg.ReceiveBufferSize > 0 {
		_ = tc.SetReadBuffer(cfg.ReceiveBufferSize)
	}
	if cfg.SendBufferSize > 0 {
		_ = tc.SetWriteBuffer(cfg.SendBufferSize)
	}
}

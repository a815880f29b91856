// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory api.Listener fed by the test.

package fake

import (
	"fmt"
	"net"
	"sync"

	"github.com/momentics/hioload-srv/api"
)

// Listener hands out connections passed to Push.
type Listener struct {
	conns    chan net.Conn
	stopped  chan struct{}
	stopOnce sync.Once
	addr     net.Addr
}

var _ api.Listener = (*Listener)(nil)

// NewListener creates a listener reporting addr.
func NewListener(addr string) *Listener {
	return &Listener{
		conns:   make(chan net.Conn, 16),
		stopped: make(chan struct{}),
		addr:    Addr{Net: "fake", Str: addr},
	}
}

// Push queues c for Accept. It reports false after Stop.
func (l *Listener) Push(c net.Conn) bool {
	select {
	case <-l.stopped:
		return false
	case l.conns <- c:
		return true
	}
}

// Accept blocks until Push or Stop.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.stopped:
		return nil, fmt.Errorf("accept on %s: %w", l.addr, api.ErrListenerClosed)
	}
}

// Stop unblocks Accept. Repeated calls are no-ops.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() { close(l.stopped) })
	return nil
}

func (l *Listener) Addr() net.Addr { return l.addr }

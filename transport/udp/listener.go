// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package udp demultiplexes one datagram socket into a stream-like net.Conn
// per remote address, so UDP peers flow through the same pipeline as TCP.

package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/log"
	"github.com/momentics/hioload-srv/pool"
)

// Config tunes the demultiplexer.
type Config struct {
	// MaxDatagramSize is the read buffer of the shared socket.
	MaxDatagramSize int
	// InboxSize bounds datagrams queued per peer; excess datagrams are dropped.
	InboxSize int
	// AcceptBacklog bounds new peers waiting for Accept.
	AcceptBacklog int
	Logger        *zap.Logger
}

func (c *Config) setDefaults() {
	if c.MaxDatagramSize <= 0 {
		c.MaxDatagramSize = 64 * 1024
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 128
	}
	c.Logger = log.Named(c.Logger, "udp")
}

// Listener implements api.Listener over a net.PacketConn.
type Listener struct {
	pc     net.PacketConn
	cfg    Config
	mu     sync.Mutex
	peers  map[string]*Conn
	accept chan *Conn

	// payloads backs the per-datagram copies handed to peer inboxes.
	payloads *pool.BytePool

	stopOnce sync.Once
	stopped  chan struct{}
	dropped  atomic.Int64
	wg       sync.WaitGroup
}

var _ api.Listener = (*Listener)(nil)

// Listen binds a UDP socket on addr and starts demultiplexing.
func Listen(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	cfg.setDefaults()
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", addr, err)
	}
	l := &Listener{
		pc:       pc,
		cfg:      cfg,
		peers:    make(map[string]*Conn),
		accept:   make(chan *Conn, cfg.AcceptBacklog),
		payloads: pool.NewBytePool(64, cfg.MaxDatagramSize),
		stopped:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l, nil
}

// Accept returns the conn of the next new peer.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.stopped:
		return nil, fmt.Errorf("udp accept: %w", api.ErrListenerClosed)
	}
}

// Stop closes the socket and every peer conn.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopped)
		err = l.pc.Close()
		l.wg.Wait()
		l.mu.Lock()
		peers := make([]*Conn, 0, len(l.peers))
		for _, c := range l.peers {
			peers = append(peers, c)
		}
		l.mu.Unlock()
		for _, c := range peers {
			c.Close()
		}
	})
	return err
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.pc.LocalAddr() }

// Dropped returns the number of datagrams discarded because a peer's inbox
// or the accept backlog was full.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

func (l *Listener) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, l.cfg.MaxDatagramSize)
	for {
		n, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.stopped:
			default:
				l.cfg.Logger.Warn("udp read failed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			// a zero read would look like EOF to the session
			continue
		}
		datagram := l.payloads.Get(n)
		copy(datagram, buf[:n])
		l.dispatch(addr, datagram)
	}
}

func (l *Listener) dispatch(addr net.Addr, datagram []byte) {
	key := addr.String()
	l.mu.Lock()
	c, ok := l.peers[key]
	if !ok {
		c = newConn(l, addr, l.cfg.InboxSize)
		select {
		case l.accept <- c:
			l.peers[key] = c
		default:
			l.mu.Unlock()
			l.dropped.Inc()
			l.payloads.Put(datagram)
			l.cfg.Logger.Debug("accept backlog full, datagram dropped", zap.String("remote", key))
			return
		}
	}
	l.mu.Unlock()

	if !c.deliver(datagram) {
		l.dropped.Inc()
		l.payloads.Put(datagram)
		l.cfg.Logger.Debug("peer gone or inbox full, datagram dropped", zap.String("remote", key))
	}
}

func (l *Listener) forget(c *Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.peers[c.remote.String()]; ok && cur == c {
		delete(l.peers, c.remote.String())
	}
}

// Conn is the per-peer view of the shared socket. Reads return datagram
// payloads in arrival order; a payload larger than the read buffer is
// returned over several reads.
type Conn struct {
	l       *Listener
	remote  net.Addr
	inbox   chan []byte
	pending []byte
	// held is the pooled slice pending points into.
	held    []byte

	closeOnce sync.Once
	closed    chan struct{}
	readMu    sync.Mutex
}

var _ net.Conn = (*Conn)(nil)

func newConn(l *Listener, remote net.Addr, inboxSize int) *Conn {
	return &Conn{l: l, remote: remote, inbox: make(chan []byte, inboxSize), closed: make(chan struct{})}
}

// deliver reports false when the datagram was not queued, either because
// the inbox is full or because the conn is closed.
func (c *Conn) deliver(datagram []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.inbox <- datagram:
		return true
	default:
		return false
	}
}

// Read returns the next payload bytes.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) == 0 {
		select {
		case d := <-c.inbox:
			c.pending, c.held = d, d
		case <-c.closed:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.l.payloads.Put(c.held)
		c.pending, c.held = nil, nil
	}
	return n, nil
}

// Write sends p as one datagram to the peer.
func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	return c.l.pc.WriteTo(p, c.remote)
}

// Close detaches the peer; a later datagram from it starts a new conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.l.forget(c)
	})
	return nil
}

func (c *Conn) LocalAddr() net.Addr  { return c.l.pc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Deadlines are not supported on demultiplexed conns; idle peers are
// reclaimed by the session sweeper.
func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// File: server/sessions.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session construction and the close callback.

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/connection"
	"github.com/momentics/hioload-srv/session"
)

type phase int

const (
	phaseNew phase = iota
	phaseAnnouncing
	phaseConnected
	phaseClosed
)

// lifecycle orders the connected and closed notifications of one session.
// A close that lands while OnSessionConnected runs is announced by open
// once the hook returns.
type lifecycle struct {
	mu         sync.Mutex
	phase      phase
	registered bool
	pending    bool
	reason     api.CloseReason
}

// open builds the connection and session around a transport that already
// holds a reserved slot.
func (s *Server) open(conn net.Conn) (api.Session, error) {
	if s.ctx.Err() != nil {
		s.release()
		_ = conn.Close()
		return nil, api.ErrServerStopped
	}
	cfg := s.Config()
	ctx, cancel := context.WithCancel(s.ctx)
	lc := &lifecycle{}
	var (
		base *session.Session
		app  api.Session
	)
	c := connection.New(conn, connection.Options{
		Filter:           s.filterFactory(),
		Pool:             s.pool,
		MaxRequestLength: cfg.MaxRequestLength,
		SendingQueueSize: cfg.SendingQueueSize,
		SendTimeout:      func() time.Duration { return s.Config().SendTimeout },
		OnPackage: func(pkg api.Package) {
			s.metrics.PackageReceived()
			s.scheduler.HandlePackage(ctx, app, pkg)
		},
		OnActivity: func() { base.Touch() },
		OnReceived: s.metrics.BytesReceived,
		OnSent:     s.metrics.BytesSent,
		OnClose: func(reason api.CloseReason) {
			cancel()
			s.closed(lc, base, app, reason)
		},
		Logger: s.log.Named("connection"),
	})
	base = session.New(session.NewID(), c, s.clock)
	app = s.sessionFactory(base)
	s.metrics.SessionOpened()

	lc.mu.Lock()
	lc.registered = s.registry.Register(app)
	lc.mu.Unlock()
	if !lc.registered {
		c.Close(api.CloseRejected)
		return nil, fmt.Errorf("register session %s: %w", app.ID(), api.ErrAlreadyExists)
	}
	if !base.Connected() {
		return nil, fmt.Errorf("session %s: %w", app.ID(), api.ErrConnectionClosed)
	}
	// Sends from OnSessionConnected must reach the wire, so the connection
	// is open before the hook and only starts reading after it.
	if err := c.Open(); err != nil {
		return nil, fmt.Errorf("session %s: %w", app.ID(), err)
	}

	lc.mu.Lock()
	if lc.phase == phaseClosed {
		lc.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", app.ID(), api.ErrConnectionClosed)
	}
	lc.phase = phaseAnnouncing
	lc.mu.Unlock()

	if s.hooks.OnSessionConnected != nil {
		s.hooks.OnSessionConnected(app)
	}

	lc.mu.Lock()
	if lc.pending {
		reason := lc.reason
		lc.mu.Unlock()
		s.notifyClosed(app, reason)
		return nil, fmt.Errorf("session %s: %w", app.ID(), api.ErrConnectionClosed)
	}
	lc.phase = phaseConnected
	lc.mu.Unlock()

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("session %s: %w", app.ID(), err)
	}
	s.log.Debug("session connected", zap.String("session", app.ID()),
		zap.Stringer("remote", conn.RemoteAddr()))
	return app, nil
}

// closed runs once per connection from its close callback.
func (s *Server) closed(lc *lifecycle, base *session.Session, app api.Session, reason api.CloseReason) {
	if !base.MarkClosed(reason) {
		return
	}
	lc.mu.Lock()
	registered := lc.registered
	announce := false
	switch lc.phase {
	case phaseAnnouncing:
		lc.pending, lc.reason = true, reason
	case phaseConnected:
		announce = true
	}
	lc.phase = phaseClosed
	lc.mu.Unlock()

	if registered {
		s.registry.Unregister(app.ID())
	}
	s.release()
	s.metrics.SessionClosed(reason)
	if reason == api.CloseRejected {
		s.rejected.Inc()
		s.metrics.ConnectionRejected()
	}
	s.log.Debug("session closed", zap.String("session", app.ID()), zap.Stringer("reason", reason))
	if announce {
		s.notifyClosed(app, reason)
	}
}

func (s *Server) notifyClosed(app api.Session, reason api.CloseReason) {
	if s.hooks.OnSessionClosed != nil {
		s.hooks.OnSessionClosed(app, reason)
	}
}

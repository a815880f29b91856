// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/control"
	"github.com/momentics/hioload-srv/session"
)

// Option customizes server initialization.
type Option func(*Server)

// Hooks receive lifecycle notifications. OnSessionClosed fires exactly once,
// and only for sessions that were announced through OnSessionConnected.
type Hooks struct {
	OnSessionConnected func(s api.Session)
	OnSessionClosed    func(s api.Session, reason api.CloseReason)
}

// ConnectionFilter admits or rejects a transport by its remote address.
type ConnectionFilter func(remote net.Addr) bool

// WithLogger sets the root logger; components derive named children.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithFilterFactory sets the pipeline filter created for every connection.
func WithFilterFactory(f api.FilterFactory) Option {
	return func(s *Server) { s.filterFactory = f }
}

// WithHandler sets the package handler.
func WithHandler(h api.PackageHandler) Option {
	return func(s *Server) { s.handler = h }
}

// WithSessionFactory wraps base sessions into application types.
func WithSessionFactory(f session.Factory) Option {
	return func(s *Server) { s.sessionFactory = f }
}

// WithScheduler replaces the scheduler selected by Config.Mode.
func WithScheduler(sc api.PackageScheduler) Option {
	return func(s *Server) { s.scheduler = sc }
}

// WithNegotiator runs n on every accepted transport before a session exists.
func WithNegotiator(n api.Negotiator) Option {
	return func(s *Server) { s.negotiator = n }
}

// WithDialNegotiator runs n on transports opened by Connect.
func WithDialNegotiator(n api.Negotiator) Option {
	return func(s *Server) { s.dialNegotiator = n }
}

// WithListener adds a listener built outside Config.Listeners.
func WithListener(l api.Listener) Option {
	return func(s *Server) { s.extra = append(s.extra, l) }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the time source for sessions and the idle sweeper.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithErrorPolicy decides whether a handler failure closes the session.
func WithErrorPolicy(p api.ErrorPolicy) Option {
	return func(s *Server) { s.policy = p }
}

// WithErrorReporter observes handler failures in addition to logging and metrics.
func WithErrorReporter(r api.ErrorReporter) Option {
	return func(s *Server) { s.reporter = r }
}

// WithHooks installs lifecycle notifications.
func WithHooks(h Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithConnectionFilter installs remote address admission.
func WithConnectionFilter(f ConnectionFilter) Option {
	return func(s *Server) { s.connFilter = f }
}

// WithBufferPool replaces the receive buffer arena.
func WithBufferPool(p api.BufferPool) Option {
	return func(s *Server) { s.pool = p }
}

// File: server/server.go
// Package server wires listeners, connections, sessions and the package
// scheduler into a running application server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/control"
	"github.com/momentics/hioload-srv/log"
	"github.com/momentics/hioload-srv/pool"
	"github.com/momentics/hioload-srv/scheduler"
	"github.com/momentics/hioload-srv/session"
	"github.com/momentics/hioload-srv/transport/tcp"
	"github.com/momentics/hioload-srv/transport/udp"
)

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopped
)

// Server is the high-level facade owning listeners, sessions and the scheduler.
type Server struct {
	cfg *control.ConfigStore[Config]
	log *zap.Logger

	filterFactory  api.FilterFactory
	handler        api.PackageHandler
	sessionFactory session.Factory
	scheduler      api.PackageScheduler
	negotiator     api.Negotiator
	dialNegotiator api.Negotiator
	extra          []api.Listener
	metrics        *control.Metrics
	clock          clock.Clock
	policy         api.ErrorPolicy
	reporter       api.ErrorReporter
	hooks          Hooks
	connFilter     ConnectionFilter
	pool           api.BufferPool

	registry   *session.Registry
	sweeper    *session.Sweeper
	probes     *control.DebugProbes
	handshakes *semaphore.Weighted

	mu        sync.Mutex
	state     runState
	listeners []api.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	accepting sync.WaitGroup
	startedAt time.Time

	live     atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
}

// New validates cfg and builds a stopped server. WithFilterFactory and
// WithHandler are required.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:            control.NewConfigStore(cfg),
		sessionFactory: session.DefaultFactory,
		policy:         scheduler.CloseOnError,
	}
	for _, o := range opts {
		o(s)
	}
	if s.filterFactory == nil {
		return nil, fmt.Errorf("new server: %w: filter factory is required", api.ErrInvalidArgument)
	}
	if s.handler == nil {
		return nil, fmt.Errorf("new server: %w: handler is required", api.ErrInvalidArgument)
	}
	s.log = log.Named(s.log, "server").With(zap.String("server", cfg.Name))
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.pool == nil {
		s.pool = pool.NewArena(cfg.ReceiveBufferSize, cfg.MaxConnectionNumber)
	}
	if s.scheduler == nil {
		s.scheduler = s.newScheduler(cfg)
	}
	s.scheduler.Initialize(s.handler, s.policy)

	s.registry = session.NewRegistry(0)
	s.sweeper = session.NewSweeper(s.registry, session.SweeperConfig{
		Interval: cfg.ClearIdleSessionInterval,
		Timeout:  func() time.Duration { return s.Config().IdleSessionTimeout },
	}, s.clock, s.log)
	s.handshakes = semaphore.NewWeighted(int64(max(cfg.MaxPendingNegotiations, 1)))
	s.probes = control.NewDebugProbes()
	s.registerProbes()
	return s, nil
}

func (s *Server) newScheduler(cfg Config) api.PackageScheduler {
	opts := scheduler.Options{
		Timeout:  func() time.Duration { return s.Config().HandlingTimeout },
		Reporter: s.reportError,
		Logger:   s.log,
	}
	if cfg.Mode == ModeConcurrent {
		return scheduler.NewConcurrent(cfg.Workers, cfg.WorkerBacklog, opts)
	}
	return scheduler.NewSerial(opts)
}

func (s *Server) reportError(sess api.Session, pkg api.Package, err error) {
	s.metrics.HandlerError()
	s.log.Warn("handler failed", zap.String("session", sess.ID()), zap.Error(err))
	if s.reporter != nil {
		s.reporter(sess, pkg, err)
	}
}

func (s *Server) registerProbes() {
	s.probes.RegisterProbe("server.sessions", func() any { return s.registry.Len() })
	s.probes.RegisterProbe("server.summary", func() any { return s.Summary() })
	s.probes.RegisterProbe("pool.stats", func() any { return s.pool.Stats() })
	if st, ok := s.scheduler.(interface{ Stats() map[string]int64 }); ok {
		s.probes.RegisterProbe("scheduler.stats", func() any { return st.Stats() })
	}
}

// Start binds every configured listener in parallel and begins accepting.
// A bind failure stops the listeners already bound and is returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return api.ErrServerRunning
	case stateStopped:
		return fmt.Errorf("start: %w: server cannot be restarted", api.ErrServerStopped)
	}

	cfg := s.Config()
	bound := make([]api.Listener, len(cfg.Listeners))
	g, gctx := errgroup.WithContext(ctx)
	for i, lc := range cfg.Listeners {
		g.Go(func() error {
			l, err := s.listen(gctx, lc)
			if err != nil {
				return fmt.Errorf("listen %s %s: %w", lc.Network, lc.Addr, err)
			}
			bound[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range bound {
			if l != nil {
				_ = l.Stop()
			}
		}
		return err
	}

	s.listeners = append(bound, s.extra...)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = stateRunning
	s.startedAt = s.clock.Now()
	for _, l := range s.listeners {
		s.accepting.Add(1)
		go s.acceptLoop(l)
		s.log.Info("listening", zap.Stringer("addr", l.Addr()))
	}
	if cfg.ClearIdleSessionInterval > 0 {
		s.sweeper.Start(s.ctx)
	}
	return nil
}

func (s *Server) listen(ctx context.Context, lc ListenerConfig) (api.Listener, error) {
	if lc.Network == "udp" {
		return udp.Listen(ctx, lc.Addr, udp.Config{
			MaxDatagramSize: s.Config().ReceiveBufferSize,
			Logger:          s.log,
		})
	}
	return tcp.Listen(ctx, lc.Addr, lc.tcpConfig())
}

func (s *Server) acceptLoop(l api.Listener) {
	defer s.accepting.Done()
	var tempDelay time.Duration
	for {
		raw, err := l.Accept()
		if err != nil {
			if errors.Is(err, api.ErrListenerClosed) || s.ctx.Err() != nil {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.log.Warn("accept failed", zap.Stringer("addr", l.Addr()), zap.Error(err),
				zap.Duration("retry_in", tempDelay))
			select {
			case <-s.ctx.Done():
				return
			case <-s.clock.After(tempDelay):
			}
			continue
		}
		tempDelay = 0
		s.accepting.Add(1)
		go func() {
			defer s.accepting.Done()
			s.admit(raw)
		}()
	}
}

// admit runs the connection filter, the connection limit and the negotiator
// before a session is created.
func (s *Server) admit(raw net.Conn) {
	s.accepted.Inc()
	s.metrics.ConnectionAccepted()
	remote := raw.RemoteAddr()

	if s.connFilter != nil && !s.connFilter(remote) {
		s.reject(raw, "connection filter")
		return
	}
	if !s.reserve() {
		s.reject(raw, "max connection number reached")
		return
	}
	conn, err := s.negotiate(s.ctx, s.negotiator, raw)
	if err != nil {
		s.release()
		s.log.Debug("negotiation failed", zap.Stringer("remote", remote), zap.Error(err))
		s.reject(nil, "negotiation failed")
		return
	}
	if _, err := s.open(conn); err != nil {
		s.log.Debug("open session", zap.Stringer("remote", remote), zap.Error(err))
	}
}

// reserve takes a connection slot; every successful reserve is paired with
// one release, either on an early failure or when the session closes.
func (s *Server) reserve() bool {
	if int(s.live.Inc()) > s.Config().MaxConnectionNumber {
		s.live.Dec()
		return false
	}
	return true
}

func (s *Server) release() { s.live.Dec() }

func (s *Server) reject(raw net.Conn, why string) {
	if raw != nil {
		s.log.Debug("connection rejected", zap.Stringer("remote", raw.RemoteAddr()), zap.String("reason", why))
		_ = raw.Close()
	}
	s.rejected.Inc()
	s.metrics.ConnectionRejected()
}

func (s *Server) negotiate(ctx context.Context, n api.Negotiator, raw net.Conn) (net.Conn, error) {
	if n == nil {
		return raw, nil
	}
	if err := s.handshakes.Acquire(ctx, 1); err != nil {
		_ = raw.Close()
		return nil, err
	}
	defer s.handshakes.Release(1)
	if t := s.Config().NegotiationTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	conn, err := n.Negotiate(ctx, raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// Stop closes listeners, waits for in-flight admissions, closes every
// session with api.CloseServerShutdown and stops the scheduler.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return api.ErrServerStopped
	}
	s.state = stateStopped
	listeners := s.listeners
	s.mu.Unlock()

	s.cancel()
	// Sessions close before their listeners stop; a udp listener tears down
	// its peer conns on Stop and those would otherwise read as socket errors.
	closed := s.closeSessions()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Stop())
	}
	s.accepting.Wait()
	s.sweeper.Stop()
	closed += s.closeSessions()

	s.scheduler.Close()
	s.log.Info("server stopped", zap.Int("sessions_closed", closed), zap.Error(err))
	return err
}

func (s *Server) closeSessions() int {
	sessions := s.registry.Snapshot()
	for _, sess := range sessions {
		sess.Close(api.CloseServerShutdown)
	}
	return len(sessions)
}

// Connect dials addr and runs the resulting transport through the same
// session pipeline as accepted ones.
func (s *Server) Connect(ctx context.Context, network, addr string) (api.Session, error) {
	if !s.Running() {
		return nil, api.ErrServerStopped
	}
	var (
		raw net.Conn
		err error
	)
	switch network {
	case "tcp", "tcp4", "tcp6":
		raw, err = tcp.Dial(ctx, addr, tcp.DefaultConfig())
	case "udp", "udp4", "udp6":
		var d net.Dialer
		raw, err = d.DialContext(ctx, network, addr)
	default:
		return nil, fmt.Errorf("connect: %w: network %q", api.ErrInvalidArgument, network)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s %s: %w", network, addr, err)
	}
	if !s.reserve() {
		_ = raw.Close()
		return nil, fmt.Errorf("connect %s %s: %w: max connection number reached", network, addr, api.ErrResourceExhausted)
	}
	conn, err := s.negotiate(ctx, s.dialNegotiator, raw)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("connect %s %s: %w", network, addr, err)
	}
	return s.open(conn)
}

// Config returns the current configuration snapshot.
func (s *Server) Config() Config { return s.cfg.Load() }

// UpdateConfig applies fn to the live configuration. Listener, buffer and
// scheduler settings only take effect for a new server; the timeouts and
// MaxConnectionNumber apply immediately.
func (s *Server) UpdateConfig(fn func(*Config)) (Config, error) {
	return s.cfg.TryUpdate(func(c *Config) error {
		fn(c)
		return c.Validate()
	})
}

// OnConfigReload registers a listener for UpdateConfig.
func (s *Server) OnConfigReload(fn func(old, cur Config)) { s.cfg.OnReload(fn) }

// Running reports whether Start succeeded and Stop was not called.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Addrs lists the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.Addr())
	}
	return out
}

// GetSessionByID looks up a connected session.
func (s *Server) GetSessionByID(id string) (api.Session, bool) { return s.registry.Get(id) }

// Sessions returns a point-in-time copy of the registered sessions.
func (s *Server) Sessions() []api.Session { return s.registry.Snapshot() }

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int { return s.registry.Len() }

// Sweeper exposes idle eviction, mostly for tests and admin tooling.
func (s *Server) Sweeper() *session.Sweeper { return s.sweeper }

// Probes exposes runtime state probes.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Summary reports health counters.
func (s *Server) Summary() api.ServerSummary {
	s.mu.Lock()
	running, started := s.state == stateRunning, s.startedAt
	s.mu.Unlock()
	return api.ServerSummary{
		Name:                s.Config().Name,
		NumSessions:         s.registry.Len(),
		AcceptedConnections: s.accepted.Load(),
		RejectedConnections: s.rejected.Load(),
		MaxConnections:      s.Config().MaxConnectionNumber,
		StartedAt:           started,
		Running:             running,
	}
}

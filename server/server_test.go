// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/control"
	"github.com/momentics/hioload-srv/fake"
	"github.com/momentics/hioload-srv/protocol"
	"github.com/momentics/hioload-srv/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var echo = api.HandlerFunc(func(ctx context.Context, s api.Session, pkg api.Package) error {
	p := pkg.(*protocol.StringPackage)
	if p.Name == "fail" {
		return errors.New("command failed")
	}
	return s.Send(ctx, []byte(p.Body+"\n"))
})

type hookRecorder struct {
	mu        sync.Mutex
	connected []string
	closed    map[string][]api.CloseReason
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{closed: make(map[string][]api.CloseReason)}
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnSessionConnected: func(s api.Session) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.connected = append(h.connected, s.ID())
		},
		OnSessionClosed: func(s api.Session, reason api.CloseReason) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.closed[s.ID()] = append(h.closed[s.ID()], reason)
		},
	}
}

func (h *hookRecorder) closedWith(id string) []api.CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.CloseReason(nil), h.closed[id]...)
}

func startServer(t *testing.T, cfg Config, opts ...Option) (*Server, *fake.Listener) {
	t.Helper()
	ln := fake.NewListener("fake:1")
	opts = append([]Option{
		WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
		WithHandler(echo),
		WithListener(ln),
	}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, ln
}

func connectFake(t *testing.T, s *Server, ln *fake.Listener, remote string) (*fake.Conn, api.Session) {
	t.Helper()
	before := len(s.Sessions())
	c := fake.NewConn(remote)
	require.True(t, ln.Push(c))
	var sess api.Session
	require.Eventually(t, func() bool {
		for _, cand := range s.Sessions() {
			if cand.RemoteAddr().String() == remote {
				sess = cand
				return true
			}
		}
		return false
	}, waitFor, tick, "session for %s not registered (had %d)", remote, before)
	return c, sess
}

// metricValue sums every series of a counter or gauge family.
func metricValue(t *testing.T, m *control.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
		}
	}
	return sum
}

func TestNewRequiresFilterAndHandler(t *testing.T) {
	_, err := New(DefaultConfig(), WithHandler(echo))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = New(DefaultConfig(), WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg := DefaultConfig()
	cfg.Mode = "parallel"
	_, err = New(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: echo
max_connection_number: 7
idle_session_timeout: 90s
mode: concurrent
workers: 3
listeners:
  - network: tcp
    addr: 127.0.0.1:0
    no_delay: true
    so_rcvbuf: 65536
    so_sndbuf: 32768
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.Name)
	assert.Equal(t, 7, cfg.MaxConnectionNumber)
	assert.Equal(t, 90*time.Second, cfg.IdleSessionTimeout)
	assert.Equal(t, ModeConcurrent, cfg.Mode)
	require.Len(t, cfg.Listeners, 1)
	assert.True(t, cfg.Listeners[0].NoDelay)
	tcfg := cfg.Listeners[0].tcpConfig()
	assert.Equal(t, 65536, tcfg.ReceiveBufferSize)
	assert.Equal(t, 32768, tcfg.SendBufferSize)
	assert.True(t, tcfg.NoDelay)
	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.MaxRequestLength)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)

	require.NoError(t, os.WriteFile(path, []byte("listeners:\n  - network: sctp\n"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	require.NoError(t, os.WriteFile(path, []byte("listeners:\n  - network: tcp\n    so_rcvbuf: -1\n"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestEchoAndClientClose(t *testing.T) {
	rec := newHookRecorder()
	metrics := control.NewMetrics("test", nil)
	s, ln := startServer(t, DefaultConfig(), WithHooks(rec.hooks()), WithMetrics(metrics))

	c, sess := connectFake(t, s, ln, "peer:1")
	assert.Equal(t, api.SessionConnected, sess.State())

	c.AddRecvData([]byte("echo hel"))
	c.AddRecvData([]byte("lo\r\necho world\n"))
	require.Eventually(t, func() bool { return string(c.Sent()) == "hello\nworld\n" }, waitFor, tick)

	c.CloseRead()
	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatal("session not closed")
	}
	assert.Equal(t, api.CloseClientClosing, sess.CloseReason())
	assert.Equal(t, 0, s.SessionCount())
	_, ok := s.GetSessionByID(sess.ID())
	assert.False(t, ok)

	rec.mu.Lock()
	assert.Equal(t, []string{sess.ID()}, rec.connected)
	rec.mu.Unlock()
	assert.Equal(t, []api.CloseReason{api.CloseClientClosing}, rec.closedWith(sess.ID()))

	assert.Equal(t, 2.0, metricValue(t, metrics, "test_packages_received_total"))
	assert.Equal(t, 0.0, metricValue(t, metrics, "test_sessions_active"))
	assert.Equal(t, 12.0, metricValue(t, metrics, "test_bytes_sent_total"))
}

func TestHandlerErrorClosesSession(t *testing.T) {
	metrics := control.NewMetrics("test", nil)
	var reported []error
	var mu sync.Mutex
	s, ln := startServer(t, DefaultConfig(), WithMetrics(metrics),
		WithErrorReporter(func(_ api.Session, _ api.Package, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		}))

	c, sess := connectFake(t, s, ln, "peer:2")
	c.AddRecvData([]byte("fail now\n"))
	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatal("session not closed")
	}
	assert.Equal(t, api.CloseApplicationError, sess.CloseReason())
	assert.True(t, c.Closed())
	assert.Equal(t, 1.0, metricValue(t, metrics, "test_handler_errors_total"))
	mu.Lock()
	assert.Len(t, reported, 1)
	mu.Unlock()
}

func TestKeepOpenPolicy(t *testing.T) {
	s, ln := startServer(t, DefaultConfig(), WithErrorPolicy(func(api.Session, error) bool { return false }))

	c, sess := connectFake(t, s, ln, "peer:3")
	c.AddRecvData([]byte("fail\necho alive\n"))
	require.Eventually(t, func() bool { return string(c.Sent()) == "alive\n" }, waitFor, tick)
	assert.Equal(t, api.SessionConnected, sess.State())
}

func TestSendFromConnectedHook(t *testing.T) {
	rec := newHookRecorder()
	hooks := rec.hooks()
	record := hooks.OnSessionConnected
	hooks.OnSessionConnected = func(s api.Session) {
		record(s)
		s.TrySend([]byte("WELCOME\n"))
	}
	s, ln := startServer(t, DefaultConfig(), WithHooks(hooks))

	c, sess := connectFake(t, s, ln, "peer:welcome")
	require.Eventually(t, func() bool { return string(c.Sent()) == "WELCOME\n" }, waitFor, tick)

	// the greeting goes out before anything the peer asked for
	c.AddRecvData([]byte("echo after\n"))
	require.Eventually(t, func() bool { return string(c.Sent()) == "WELCOME\nafter\n" }, waitFor, tick)
	assert.Equal(t, api.SessionConnected, sess.State())
}

func TestMaxConnectionNumberRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnectionNumber = 1
	s, ln := startServer(t, cfg)

	connectFake(t, s, ln, "peer:first")
	second := fake.NewConn("peer:second")
	require.True(t, ln.Push(second))
	require.Eventually(t, second.Closed, waitFor, tick)
	assert.Equal(t, 1, s.SessionCount())

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.AcceptedConnections)
	assert.Equal(t, int64(1), sum.RejectedConnections)
	assert.True(t, sum.Running)

	// raising the limit at runtime admits the next peer
	_, err := s.UpdateConfig(func(c *Config) { c.MaxConnectionNumber = 2 })
	require.NoError(t, err)
	connectFake(t, s, ln, "peer:third")
	assert.Equal(t, 2, s.SessionCount())
}

func TestConnectionFilterRejects(t *testing.T) {
	s, ln := startServer(t, DefaultConfig(), WithConnectionFilter(func(remote net.Addr) bool {
		return remote.String() != "peer:banned"
	}))

	banned := fake.NewConn("peer:banned")
	require.True(t, ln.Push(banned))
	require.Eventually(t, banned.Closed, waitFor, tick)
	connectFake(t, s, ln, "peer:ok")
	assert.Equal(t, 1, s.SessionCount())
	assert.Equal(t, int64(1), s.Summary().RejectedConnections)
}

func TestNegotiatorFailureDropsTransport(t *testing.T) {
	neg := api.Negotiator(negotiatorFunc(func(_ context.Context, raw net.Conn) (net.Conn, error) {
		if raw.RemoteAddr().String() == "peer:bad" {
			return nil, errors.New("handshake failed")
		}
		return raw, nil
	}))
	s, ln := startServer(t, DefaultConfig(), WithNegotiator(neg))

	bad := fake.NewConn("peer:bad")
	require.True(t, ln.Push(bad))
	require.Eventually(t, bad.Closed, waitFor, tick)

	c, _ := connectFake(t, s, ln, "peer:good")
	c.AddRecvData([]byte("echo ok\n"))
	require.Eventually(t, func() bool { return string(c.Sent()) == "ok\n" }, waitFor, tick)
	assert.Equal(t, 1, s.SessionCount())
}

type negotiatorFunc func(ctx context.Context, raw net.Conn) (net.Conn, error)

func (f negotiatorFunc) Negotiate(ctx context.Context, raw net.Conn) (net.Conn, error) {
	return f(ctx, raw)
}

func TestIdleSessionsEvicted(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.IdleSessionTimeout = 10 * time.Second
	cfg.ClearIdleSessionInterval = 0
	rec := newHookRecorder()
	s, ln := startServer(t, cfg, WithClock(mock), WithHooks(rec.hooks()))

	_, idle := connectFake(t, s, ln, "peer:idle")
	mock.Add(6 * time.Second)
	busy, active := connectFake(t, s, ln, "peer:busy")
	busy.AddRecvData([]byte("echo x\n"))
	require.Eventually(t, func() bool { return string(busy.Sent()) == "x\n" }, waitFor, tick)

	mock.Add(5 * time.Second)
	n, ran := s.Sweeper().Sweep()
	assert.True(t, ran)
	assert.Equal(t, 1, n)

	<-idle.Done()
	assert.Equal(t, api.CloseTimeOut, idle.CloseReason())
	assert.Equal(t, []api.CloseReason{api.CloseTimeOut}, rec.closedWith(idle.ID()))
	assert.Equal(t, api.SessionConnected, active.State())
}

func TestStopClosesSessions(t *testing.T) {
	rec := newHookRecorder()
	ln := fake.NewListener("fake:1")
	s, err := New(DefaultConfig(),
		WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
		WithHandler(echo),
		WithListener(ln),
		WithHooks(rec.hooks()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), api.ErrServerRunning)

	c1, s1 := connectFake(t, s, ln, "peer:a")
	c2, s2 := connectFake(t, s, ln, "peer:b")

	require.NoError(t, s.Stop())
	assert.True(t, c1.Closed())
	assert.True(t, c2.Closed())
	assert.Equal(t, api.CloseServerShutdown, s1.CloseReason())
	assert.Equal(t, []api.CloseReason{api.CloseServerShutdown}, rec.closedWith(s2.ID()))
	assert.Equal(t, 0, s.SessionCount())
	assert.False(t, s.Summary().Running)

	assert.ErrorIs(t, s.Stop(), api.ErrServerStopped)
	assert.ErrorIs(t, s.Start(context.Background()), api.ErrServerStopped)
	_, err = s.Connect(context.Background(), "tcp", "127.0.0.1:1")
	assert.ErrorIs(t, err, api.ErrServerStopped)
}

type appSession struct {
	*session.Session
	user string
}

func TestSessionFactoryWrapsSessions(t *testing.T) {
	handler := api.HandlerFunc(func(ctx context.Context, s api.Session, _ api.Package) error {
		as, ok := s.(*appSession)
		if !ok {
			return errors.New("unexpected session type")
		}
		return s.Send(ctx, []byte(as.user+"\n"))
	})
	s, ln := startServer(t, DefaultConfig(),
		WithHandler(handler),
		WithSessionFactory(func(base *session.Session) api.Session {
			return &appSession{Session: base, user: "anna"}
		}))

	c, sess := connectFake(t, s, ln, "peer:app")
	_, ok := sess.(*appSession)
	assert.True(t, ok)
	c.AddRecvData([]byte("whoami\n"))
	require.Eventually(t, func() bool { return string(c.Sent()) == "anna\n" }, waitFor, tick)
}

func TestUpdateConfigValidates(t *testing.T) {
	s, _ := startServer(t, DefaultConfig())
	var seen []time.Duration
	s.OnConfigReload(func(_, cur Config) { seen = append(seen, cur.IdleSessionTimeout) })

	_, err := s.UpdateConfig(func(c *Config) { c.MaxConnectionNumber = 0 })
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, 100, s.Config().MaxConnectionNumber)

	cfg, err := s.UpdateConfig(func(c *Config) { c.IdleSessionTimeout = time.Minute })
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.IdleSessionTimeout)
	assert.Equal(t, []time.Duration{time.Minute}, seen)
}

func TestProbes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeConcurrent
	s, ln := startServer(t, cfg)
	connectFake(t, s, ln, "peer:probe")

	state := s.Probes().DumpState()
	assert.Equal(t, 1, state["server.sessions"])
	assert.Contains(t, state, "scheduler.stats")
	assert.Contains(t, state, "pool.stats")
}

func TestTCPEndToEnd(t *testing.T) {
	for _, mode := range []string{ModeSerial, ModeConcurrent} {
		t.Run(mode, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			cfg.Listeners = []ListenerConfig{{Network: "tcp", Addr: "127.0.0.1:0", NoDelay: true}}
			s, err := New(cfg,
				WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
				WithHandler(echo))
			require.NoError(t, err)
			require.NoError(t, s.Start(context.Background()))
			defer s.Stop()

			addrs := s.Addrs()
			require.Len(t, addrs, 1)
			conn, err := net.Dial("tcp", addrs[0].String())
			require.NoError(t, err)
			defer conn.Close()

			_, err = conn.Write([]byte("echo over tcp\r\n"))
			require.NoError(t, err)
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
			line, err := bufio.NewReader(conn).ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "over tcp\n", line)
		})
	}
}

func TestUDPStopReportsShutdown(t *testing.T) {
	rec := newHookRecorder()
	cfg := DefaultConfig()
	cfg.Listeners = []ListenerConfig{{Network: "udp", Addr: "127.0.0.1:0"}}
	s, err := New(cfg,
		WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
		WithHandler(echo),
		WithHooks(rec.hooks()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	addrs := s.Addrs()
	require.Len(t, addrs, 1)
	conn, err := net.Dial("udp", addrs[0].String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("echo over udp\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "over udp\n", string(buf[:n]))

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	sess := sessions[0]

	require.NoError(t, s.Stop())
	assert.Equal(t, api.CloseServerShutdown, sess.CloseReason())
	assert.Equal(t, []api.CloseReason{api.CloseServerShutdown}, rec.closedWith(sess.ID()))
}

func TestConnectOutbound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listeners = []ListenerConfig{{Network: "tcp", Addr: "127.0.0.1:0"}}
	var got sync.Map
	handler := api.HandlerFunc(func(ctx context.Context, s api.Session, pkg api.Package) error {
		p := pkg.(*protocol.StringPackage)
		got.Store(p.Name, p.Body)
		if p.Name == "ping" {
			return s.Send(ctx, []byte("pong "+p.Body+"\n"))
		}
		return nil
	})
	s, err := New(cfg,
		WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
		WithHandler(handler))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	out, err := s.Connect(context.Background(), "tcp", s.Addrs()[0].String())
	require.NoError(t, err)
	require.NoError(t, out.Send(context.Background(), []byte("ping 42\n")))

	require.Eventually(t, func() bool {
		v, ok := got.Load("pong")
		return ok && v == "42"
	}, waitFor, tick)
	assert.Equal(t, 2, s.SessionCount())

	_, err = s.Connect(context.Background(), "sctp", "x")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestStartBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := DefaultConfig()
	cfg.Listeners = []ListenerConfig{
		{Network: "tcp", Addr: "127.0.0.1:0"},
		{Network: "tcp", Addr: busy.Addr().String()},
	}
	s, err := New(cfg,
		WithFilterFactory(func() api.PipelineFilter { return protocol.NewLineFilter() }),
		WithHandler(echo))
	require.NoError(t, err)
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), busy.Addr().String())
	assert.False(t, s.Running())
}

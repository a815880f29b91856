package connection

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/fake"
	"github.com/momentics/hioload-srv/protocol"
)

type harness struct {
	conn     *fake.Conn
	pool     *fake.BufferPool
	c        *Connection
	mu       sync.Mutex
	pkgs     []api.Package
	reasons  []api.CloseReason
	activity atomic.Int64
}

func newHarness(t *testing.T, filter api.PipelineFilter, tweak func(*Options)) *harness {
	h := &harness{conn: fake.NewConn("peer:1"), pool: fake.NewBufferPool(64)}
	opts := Options{
		Filter: filter,
		Pool:   h.pool,
		OnPackage: func(p api.Package) {
			h.mu.Lock()
			h.pkgs = append(h.pkgs, p)
			h.mu.Unlock()
		},
		OnActivity: func() { h.activity.Inc() },
		OnClose: func(r api.CloseReason) {
			h.mu.Lock()
			h.reasons = append(h.reasons, r)
			h.mu.Unlock()
		},
		Logger: zaptest.NewLogger(t),
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.c = New(h.conn, opts)
	return h
}

func (h *harness) packages() []api.Package {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.Package(nil), h.pkgs...)
}

func (h *harness) closeReasons() []api.CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.CloseReason(nil), h.reasons...)
}

func (h *harness) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close")
	}
	// The receive goroutine releases its buffer after Close returns.
	require.Eventually(t, func() bool { return h.pool.InUse() == 0 }, time.Second, time.Millisecond)
}

func TestConnection_DecodesAcrossReadsAndClosesOnEOF(t *testing.T) {
	h := newHarness(t, protocol.NewTerminatorFilter([]byte("\n"), nil), nil)
	require.NoError(t, h.c.Start())
	assert.Equal(t, api.ConnConnected, h.c.State())

	h.conn.AddRecvData([]byte("he"))
	h.conn.AddRecvData([]byte("llo\nwor"))
	h.conn.AddRecvData([]byte("ld\n"))
	h.conn.CloseRead()
	h.waitClosed(t)

	pkgs := h.packages()
	require.Len(t, pkgs, 2)
	assert.Equal(t, []byte("hello"), pkgs[0].(*protocol.BinaryPackage).Body)
	assert.Equal(t, []byte("world"), pkgs[1].(*protocol.BinaryPackage).Body)
	assert.Equal(t, []api.CloseReason{api.CloseClientClosing}, h.closeReasons())
	assert.Equal(t, api.CloseClientClosing, h.c.CloseReason())
	assert.Equal(t, api.ConnClosed, h.c.State())
	assert.GreaterOrEqual(t, h.activity.Load(), int64(3))
	assert.True(t, h.conn.Closed())
}

func TestConnection_ReadErrorIsSocketError(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	require.NoError(t, h.c.Start())
	h.conn.SetRecvError(errors.New("connection reset by peer"))
	h.waitClosed(t)
	assert.Equal(t, []api.CloseReason{api.CloseSocketError}, h.closeReasons())
}

func TestConnection_DecodeErrorIsProtocolError(t *testing.T) {
	filter := protocol.NewFixedHeaderFilter(1, func(h []byte) (int, error) {
		if h[0] == 0xFF {
			return 0, errors.New("bad header")
		}
		return int(h[0]), nil
	}, nil)
	h := newHarness(t, filter, nil)
	require.NoError(t, h.c.Start())
	h.conn.AddRecvData([]byte{0x01, 'a', 0xFF, 'b'})
	h.waitClosed(t)
	assert.Len(t, h.packages(), 1)
	assert.Equal(t, []api.CloseReason{api.CloseProtocolError}, h.closeReasons())
}

func TestConnection_MaxRequestLength(t *testing.T) {
	h := newHarness(t, protocol.NewLengthPrefixFilter(2, false), func(o *Options) {
		o.MaxRequestLength = 1024
	})
	require.NoError(t, h.c.Start())

	// Declares 2048 bytes but delivers 100 including the header.
	h.conn.AddRecvData(append([]byte{0x08, 0x00}, bytes.Repeat([]byte{'x'}, 98)...))
	require.Eventually(t, func() bool { return h.activity.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, api.ConnConnected, h.c.State())
	assert.Empty(t, h.packages())

	for i := 0; i < 20; i++ {
		h.conn.AddRecvData(bytes.Repeat([]byte{'y'}, 50))
	}
	h.waitClosed(t)
	assert.Equal(t, []api.CloseReason{api.CloseProtocolError}, h.closeReasons())
	assert.Empty(t, h.packages())
}

func TestConnection_SendWritesInOrder(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	require.NoError(t, h.c.Start())
	defer h.c.Close(api.CloseServerClosing)

	ctx := context.Background()
	require.NoError(t, h.c.Send(ctx, []byte("one ")))
	require.NoError(t, h.c.Send(ctx, []byte("two ")))
	assert.True(t, h.c.TrySend([]byte("three")))

	require.Eventually(t, func() bool { return string(h.conn.Sent()) == "one two three" },
		time.Second, time.Millisecond)
	assert.Positive(t, h.activity.Load())
}

func TestConnection_SendTimeout(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), func(o *Options) {
		o.SendingQueueSize = 1
		o.SendTimeout = func() time.Duration { return 20 * time.Millisecond }
	})
	require.NoError(t, h.c.Start())
	release := h.conn.HoldWrites()
	defer release()

	ctx := context.Background()
	require.NoError(t, h.c.Send(ctx, []byte("a")))
	// "a" is now held by the drain; "b" fills the queue.
	require.Eventually(t, func() bool { return h.c.TrySend([]byte("b")) }, time.Second, time.Millisecond)

	err := h.c.Send(ctx, []byte("c"))
	assert.ErrorIs(t, err, api.ErrSendTimeout)
	assert.False(t, h.c.TrySend([]byte("d")))
	assert.Equal(t, api.ConnConnected, h.c.State())

	release()
	require.Eventually(t, func() bool { return string(h.conn.Sent()) == "ab" }, time.Second, time.Millisecond)
	h.c.Close(api.CloseServerClosing)
	h.waitClosed(t)
}

func TestConnection_SendCancelledByCaller(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), func(o *Options) {
		o.SendingQueueSize = 1
		o.SendTimeout = func() time.Duration { return 0 }
	})
	require.NoError(t, h.c.Start())
	release := h.conn.HoldWrites()
	defer release()

	require.NoError(t, h.c.Send(context.Background(), []byte("a")))
	require.Eventually(t, func() bool { return h.c.TrySend([]byte("b")) }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.c.Send(ctx, []byte("c"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, api.ErrSendTimeout)
	h.c.Close(api.CloseServerClosing)
}

func TestConnection_WriteErrorIsSocketError(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	require.NoError(t, h.c.Start())
	h.conn.SetSendError(errors.New("broken pipe"))
	require.NoError(t, h.c.Send(context.Background(), []byte("x")))
	h.waitClosed(t)
	assert.Equal(t, []api.CloseReason{api.CloseSocketError}, h.closeReasons())
}

func TestConnection_CloseOnce(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	require.NoError(t, h.c.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.c.Close(api.CloseServerShutdown)
		}()
	}
	wg.Wait()
	h.waitClosed(t)

	assert.Equal(t, []api.CloseReason{api.CloseServerShutdown}, h.closeReasons())
	assert.ErrorIs(t, h.c.Send(context.Background(), []byte("x")), api.ErrConnectionClosed)
	assert.False(t, h.c.TrySend([]byte("x")))
	assert.Error(t, h.c.Start())
}

func TestConnection_CloseBeforeStart(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	h.c.Close(api.CloseRejected)
	<-h.c.Done()
	assert.Equal(t, []api.CloseReason{api.CloseRejected}, h.closeReasons())
	assert.Zero(t, h.pool.InUse())
	assert.Error(t, h.c.Start())
}

func TestConnection_HandlerCloseStopsDecoding(t *testing.T) {
	var c *Connection
	h := newHarness(t, protocol.NewLineFilter(), func(o *Options) {
		inner := o.OnPackage
		o.OnPackage = func(p api.Package) {
			inner(p)
			if p.(*protocol.StringPackage).Key() == "QUIT" {
				c.Close(api.CloseServerClosing)
			}
		}
	})
	c = h.c
	require.NoError(t, c.Start())
	h.conn.AddRecvData([]byte("A\nQUIT\nB\n"))
	h.waitClosed(t)

	pkgs := h.packages()
	require.Len(t, pkgs, 2)
	assert.Equal(t, []api.CloseReason{api.CloseServerClosing}, h.closeReasons())
}

// stubFilter returns a fixed result for every call.
type stubFilter struct {
	d     api.Decoded
	calls atomic.Int64
}

func (f *stubFilter) Filter([]byte) (api.Decoded, error) {
	f.calls.Inc()
	return f.d, nil
}

func (f *stubFilter) LeftBufferSize() int    { return 0 }
func (f *stubFilter) State() api.FilterState { return api.FilterNormal }
func (f *stubFilter) Reset()                 {}

func TestConnection_FilterConsumedOutOfRange(t *testing.T) {
	pkg := &protocol.StringPackage{Body: "x"}
	cases := map[string]api.Decoded{
		"package without progress": {Package: pkg},
		"past the window":          {Package: pkg, Consumed: 10},
		"negative":                 {Consumed: -1},
		"nothing":                  {},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			f := &stubFilter{d: d}
			h := newHarness(t, f, nil)
			require.NoError(t, h.c.Start())
			h.conn.AddRecvData([]byte("abc"))
			h.waitClosed(t)

			assert.Equal(t, []api.CloseReason{api.CloseProtocolError}, h.closeReasons())
			assert.Empty(t, h.packages())
			assert.Equal(t, int64(1), f.calls.Load())
		})
	}
}

func TestConnection_OpenAllowsSendBeforeStart(t *testing.T) {
	h := newHarness(t, protocol.NewLineFilter(), nil)
	assert.False(t, h.c.TrySend([]byte("early\n")))

	require.NoError(t, h.c.Open())
	assert.Equal(t, api.ConnConnected, h.c.State())
	assert.Error(t, h.c.Open())
	require.True(t, h.c.TrySend([]byte("hello\n")))
	require.Eventually(t, func() bool { return string(h.conn.Sent()) == "hello\n" }, time.Second, time.Millisecond)

	// nothing is decoded until Start
	h.conn.AddRecvData([]byte("A\n"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.packages())

	require.NoError(t, h.c.Start())
	assert.ErrorIs(t, h.c.Start(), api.ErrAlreadyExists)
	require.Eventually(t, func() bool { return len(h.packages()) == 1 }, time.Second, time.Millisecond)

	h.c.Close(api.CloseServerClosing)
	h.waitClosed(t)
}

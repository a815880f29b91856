package control

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-srv/api"
)

type limits struct {
	MaxConnections int
	Name           string
}

func TestConfigStoreUpdateNotifiesListeners(t *testing.T) {
	cs := NewConfigStore(limits{MaxConnections: 10, Name: "a"})

	var seen [][2]int
	cs.OnReload(func(old, cur limits) {
		seen = append(seen, [2]int{old.MaxConnections, cur.MaxConnections})
	})

	got := cs.Update(func(l *limits) { l.MaxConnections = 20 })
	assert.Equal(t, 20, got.MaxConnections)
	assert.Equal(t, "a", cs.Load().Name)
	assert.Equal(t, [][2]int{{10, 20}}, seen)
}

func TestConfigStoreSnapshotIsolation(t *testing.T) {
	cs := NewConfigStore(limits{MaxConnections: 1})
	snap := cs.Load()
	cs.Update(func(l *limits) { l.MaxConnections = 2 })
	assert.Equal(t, 1, snap.MaxConnections)
	assert.Equal(t, 2, cs.Load().MaxConnections)
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("server.sessions", func() any { return 3 })

	state := dp.DumpState()
	assert.Equal(t, 3, state["server.sessions"])
	assert.Contains(t, state, "runtime.goroutines")
	assert.Contains(t, dp.Names(), "runtime.cpus")
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics("hioload", prometheus.Labels{"server": "test"})

	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionRejected()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(api.CloseTimeOut)
	m.PackageReceived()
	m.HandlerError()
	m.BytesReceived(10)
	m.BytesSent(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues("TimeOut")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytesReceived))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.bytesSent))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed(api.CloseRejected)
		m.BytesSent(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("hioload", nil)
	m.PackageReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "hioload_packages_received_total 1"))
}

func TestConfigStoreTryUpdateRefused(t *testing.T) {
	cs := NewConfigStore(limits{MaxConnections: 5})
	calls := 0
	cs.OnReload(func(_, _ limits) { calls++ })

	got, err := cs.TryUpdate(func(l *limits) error {
		l.MaxConnections = -1
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 5, got.MaxConnections)
	assert.Equal(t, 5, cs.Load().MaxConnections)
	assert.Zero(t, calls)

	got, err = cs.TryUpdate(func(l *limits) error {
		l.MaxConnections = 6
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, got.MaxConnections)
	assert.Equal(t, 1, calls)
}

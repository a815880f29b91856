// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the server. Every method is safe on a nil
// *Metrics, so instrumentation stays optional.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-srv/api"
)

// Metrics owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive      prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsRejected prometheus.Counter
	packagesReceived    prometheus.Counter
	handlerErrors       prometheus.Counter
	sessionsClosed      *prometheus.CounterVec
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
}

// NewMetrics registers all collectors under namespace with constant labels
// such as the server name.
func NewMetrics(namespace string, labels prometheus.Labels) *Metrics {
	reg := prometheus.NewRegistry()
	f := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Name: name, Help: help, ConstLabels: labels}
	}
	m := &Metrics{
		registry:            reg,
		sessionsActive:      prometheus.NewGauge(prometheus.GaugeOpts(f("sessions_active", "Sessions currently registered."))),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts(f("connections_accepted_total", "Connections accepted by listeners."))),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts(f("connections_rejected_total", "Connections closed with reason Rejected."))),
		packagesReceived:    prometheus.NewCounter(prometheus.CounterOpts(f("packages_received_total", "Packages decoded by pipeline filters."))),
		handlerErrors:       prometheus.NewCounter(prometheus.CounterOpts(f("handler_errors_total", "Package handler failures."))),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts(f("sessions_closed_total", "Closed sessions by close reason.")),
			[]string{"reason"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts(f("bytes_received_total", "Bytes read from transports."))),
		bytesSent:     prometheus.NewCounter(prometheus.CounterOpts(f("bytes_sent_total", "Bytes written to transports."))),
	}
	reg.MustRegister(m.sessionsActive, m.connectionsAccepted, m.connectionsRejected, m.packagesReceived,
		m.handlerErrors, m.sessionsClosed, m.bytesReceived, m.bytesSent)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed(reason api.CloseReason) {
	if m != nil {
		m.sessionsActive.Dec()
		m.sessionsClosed.WithLabelValues(reason.String()).Inc()
	}
}

func (m *Metrics) ConnectionAccepted() {
	if m != nil {
		m.connectionsAccepted.Inc()
	}
}

func (m *Metrics) ConnectionRejected() {
	if m != nil {
		m.connectionsRejected.Inc()
	}
}

func (m *Metrics) PackageReceived() {
	if m != nil {
		m.packagesReceived.Inc()
	}
}

func (m *Metrics) HandlerError() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

func (m *Metrics) BytesReceived(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) BytesSent(n int64) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

// Package metrics exposes the Prometheus series listed in SPEC_FULL.md
// D5, grounded on the teacher's internal/metrics/metrics.go: a
// Collector owning its own prometheus.Registry so multiple instances
// (e.g. in tests) never collide on the default global registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus series pgwired reports.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive *prometheus.GaugeVec
	sessionsTotal  *prometheus.CounterVec

	handshakeDuration prometheus.Histogram
	handshakeErrors   *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec

	sessionDuration *prometheus.HistogramVec
	cancelRequests  *prometheus.CounterVec
	backendHealth   *prometheus.GaugeVec
}

// New creates and registers every metric on an independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgwire_sessions_active",
				Help: "Number of currently open sessions per backend",
			},
			[]string{"backend"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_sessions_total",
				Help: "Total sessions established per backend",
			},
			[]string{"backend"},
		),
		handshakeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pgwire_handshake_duration_seconds",
				Help:    "Duration of the startup/authentication handshake",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		handshakeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_handshake_errors_total",
				Help: "Handshake failures by kind",
			},
			[]string{"kind"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_decode_errors_total",
				Help: "Frontend message decode failures by kind",
			},
			[]string{"kind"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgwire_session_duration_seconds",
				Help:    "Duration a session stayed open, from authentication to close",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"backend"},
		),
		cancelRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_cancel_requests_total",
				Help: "Cancel requests by verification result",
			},
			[]string{"result"},
		),
		backendHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgwire_backend_health",
				Help: "Health status of a registered backend (1=healthy, 0=unhealthy)",
			},
			[]string{"backend"},
		),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.handshakeDuration,
		c.handshakeErrors,
		c.decodeErrors,
		c.sessionDuration,
		c.cancelRequests,
		c.backendHealth,
	)

	return c
}

// SessionOpened records a newly established session for backend.
func (c *Collector) SessionOpened(backend string) {
	c.sessionsActive.WithLabelValues(backend).Inc()
	c.sessionsTotal.WithLabelValues(backend).Inc()
}

// SessionClosed records a session ending after d.
func (c *Collector) SessionClosed(backend string, d time.Duration) {
	c.sessionsActive.WithLabelValues(backend).Dec()
	c.sessionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// HandshakeCompleted observes the duration of a successful handshake.
func (c *Collector) HandshakeCompleted(d time.Duration) {
	c.handshakeDuration.Observe(d.Seconds())
}

// HandshakeError increments the handshake error counter for kind. Valid
// kinds: unsupported_version, unsupported_request, payload, tls.
func (c *Collector) HandshakeError(kind string) {
	c.handshakeErrors.WithLabelValues(kind).Inc()
}

// DecodeError increments the frontend decode error counter for kind.
func (c *Collector) DecodeError(kind string) {
	c.decodeErrors.WithLabelValues(kind).Inc()
}

// CancelRequest records a cancel request's verification result: either
// "matched" or "mismatched".
func (c *Collector) CancelRequest(result string) {
	c.cancelRequests.WithLabelValues(result).Inc()
}

// SetBackendHealth sets the health gauge for a registered backend.
func (c *Collector) SetBackendHealth(backend string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.backendHealth.WithLabelValues(backend).Set(val)
}

// RemoveBackend removes all per-backend series for a backend that was
// unregistered, mirroring the teacher's RemoveTenant.
func (c *Collector) RemoveBackend(backend string) {
	c.sessionsActive.DeleteLabelValues(backend)
	c.sessionsTotal.DeleteLabelValues(backend)
	c.sessionDuration.DeletePartialMatch(prometheus.Labels{"backend": backend})
	c.backendHealth.DeleteLabelValues(backend)
}

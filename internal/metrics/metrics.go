// Package metrics exposes Prometheus metrics for sensorlog.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/sensorlog/internal/pool"
)

const namespace = "sensorlog"

// Metrics holds all Prometheus metrics for the server.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Connection metrics
	sessionsOpened     prometheus.Counter
	sessionsClosed     *prometheus.CounterVec
	connectionsRefused prometheus.Counter
}

// New creates a Metrics instance backed by its own registry.
// Go runtime and process collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests by verb and outcome reason",
			},
			[]string{"verb", "reason"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request handling duration in seconds, storage included",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"verb"},
		),

		sessionsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Total number of accepted client sessions",
			},
		),

		sessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_closed_total",
				Help:      "Total number of closed client sessions by cause",
			},
			[]string{"cause"},
		),

		connectionsRefused: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_refused_total",
				Help:      "Connections refused because the peer exceeded the malformed request limit",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(verb, reason string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(verb, reason).Inc()
	m.requestDuration.WithLabelValues(verb).Observe(elapsed.Seconds())
}

// SessionOpened records an accepted session.
func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Inc()
}

// SessionClosed records a closed session. cause is a low-cardinality label
// such as "disconnect" or "frame_too_large".
func (m *Metrics) SessionClosed(cause string) {
	m.sessionsClosed.WithLabelValues(cause).Inc()
}

// ConnectionRefused records a connection rejected by the rate limiter.
func (m *Metrics) ConnectionRefused() {
	m.connectionsRefused.Inc()
}

// RegisterSessions exposes the live session count.
func (m *Metrics) RegisterSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open client sessions",
		},
		func() float64 { return float64(count()) },
	))
}

// RegisterPool exposes worker pool statistics.
func (m *Metrics) RegisterPool(stats func() pool.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "queued_jobs",
				Help:      "Storage jobs waiting for a worker",
			},
			func() float64 { return float64(stats().Queued) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "active_jobs",
				Help:      "Storage jobs currently executing",
			},
			func() float64 { return float64(stats().Active) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "backpressure_total",
				Help:      "Submissions that found the job queue full",
			},
			func() float64 { return float64(stats().Backpressure) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "panics_total",
				Help:      "Storage jobs that panicked",
			},
			func() float64 { return float64(stats().Panics) },
		),
	)
}

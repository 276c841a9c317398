// Package metrics exposes ledger and HTTP metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credit_ledger"

// Metrics implements ports.LedgerMetrics and holds the HTTP collectors.
type Metrics struct {
	registry *prometheus.Registry

	reservations   *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	views          *prometheus.CounterVec
	pendingFunding prometheus.Gauge

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "reservations_total",
				Help:      "Credit reservations by outcome.",
			},
			[]string{"outcome"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "settlements_total",
				Help:      "Reward settlements by outcome.",
			},
			[]string{"outcome"},
		),
		views: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracking",
				Name:      "views_total",
				Help:      "Recorded broadcast views, split by first visit.",
			},
			[]string{"first"},
		),
		pendingFunding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "stale_pending_funding",
				Help:      "Pending funding transactions older than the alert threshold.",
			},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.reservations,
		m.settlements,
		m.views,
		m.pendingFunding,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// ReservationRecorded counts a reservation attempt by outcome.
func (m *Metrics) ReservationRecorded(outcome string) {
	m.reservations.WithLabelValues(outcome).Inc()
}

// SettlementRecorded counts a settlement attempt by outcome.
func (m *Metrics) SettlementRecorded(outcome string) {
	m.settlements.WithLabelValues(outcome).Inc()
}

// ViewRecorded counts a tracked click, labelled by whether it was the first.
func (m *Metrics) ViewRecorded(first bool) {
	m.views.WithLabelValues(strconv.FormatBool(first)).Inc()
}

// PendingFunding sets the number of stale pending funding transactions.
func (m *Metrics) PendingFunding(count int) {
	m.pendingFunding.Set(float64(count))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metering holds the billing-side counters. Everything is registered on a
// private registry so tests can construct as many instances as they want
// without duplicate-registration panics.
type Metering struct {
	registry *prometheus.Registry

	deductedSeconds prometheus.Counter
	terminations    *prometheus.CounterVec
	heartbeatNoops  *prometheus.CounterVec
	refills         prometheus.Counter
	httpDuration    *prometheus.HistogramVec
}

func New() *Metering {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metering{
		registry: registry,
		deductedSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "talktime_deducted_seconds_total",
			Help: "Total talk-time seconds charged across all users",
		}),
		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talktime_session_terminations_total",
			Help: "Server-side session terminations by reason",
		}, []string{"reason"}), // reason=gap_timeout|exhausted
		heartbeatNoops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talktime_heartbeat_noops_total",
			Help: "Heartbeats absorbed without charging, by cause",
		}, []string{"cause"}), // cause=locked|sub_floor
		refills: factory.NewCounter(prometheus.CounterOpts{
			Name: "talktime_community_refills_total",
			Help: "Monthly community refills applied",
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talktime_http_request_duration_seconds",
			Help:    "HTTP request latency by route, method, and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metering) Deducted(seconds float64) {
	if seconds > 0 {
		m.deductedSeconds.Add(seconds)
	}
}

func (m *Metering) Terminated(reason string) {
	m.terminations.WithLabelValues(reason).Inc()
}

func (m *Metering) HeartbeatNoop(cause string) {
	m.heartbeatNoops.WithLabelValues(cause).Inc()
}

func (m *Metering) Refilled() {
	m.refills.Inc()
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metering) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records per-route request latency. Unmatched routes are
// grouped under a single label to keep cardinality bounded.
func (m *Metering) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

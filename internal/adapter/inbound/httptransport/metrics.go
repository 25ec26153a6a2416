package httptransport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed at /metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	CaptureDropsTotal prometheus.Counter
	HealthProbesTotal *prometheus.CounterVec
	RateLimitKeys    prometheus.Gauge
}

// NewMetrics registers every gateway metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_gateway",
				Name:      "requests_total",
				Help:      "Total number of proxied MCP requests",
			},
			[]string{"server", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_gateway",
				Name:      "request_duration_seconds",
				Help:      "Proxy request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcp_gateway",
				Name:      "active_sessions",
				Help:      "Number of sessions with cached client/server identity",
			},
		),
		CaptureDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcp_gateway",
				Name:      "capture_drops_total",
				Help:      "Total capture records dropped due to backpressure",
			},
		),
		HealthProbesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_gateway",
				Name:      "health_probes_total",
				Help:      "Total health probes by resulting state",
			},
			[]string{"server", "state"},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcp_gateway",
				Name:      "rate_limit_keys",
				Help:      "Number of distinct IPs tracked by the management rate limiter",
			},
		),
	}
}

// ObserveRequest records one proxied request's outcome. Called directly
// by the proxy adapter, which is the only place that knows both the
// resolved server name and the upstream response status.
func (m *Metrics) ObserveRequest(serverName, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(serverName, status).Inc()
	m.RequestDuration.WithLabelValues(serverName).Observe(elapsed.Seconds())
}

// ObserveHealthProbe records one health scheduler probe outcome.
func (m *Metrics) ObserveHealthProbe(serverName, state string) {
	m.HealthProbesTotal.WithLabelValues(serverName, state).Inc()
}

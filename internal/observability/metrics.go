package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	ChannelMessages    *prometheus.CounterVec
	GatewayRequests    *prometheus.CounterVec
	NegotiationLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ChannelMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Data-channel messages by direction and type.",
		}, []string{"direction", "type"}),
		GatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway endpoint requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		NegotiationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_latency_ms",
			Help:      "Latency of the full offer/credential/answer handshake in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}),
	}
}

func (m *Metrics) ObserveNegotiationLatency(d time.Duration) {
	m.NegotiationLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

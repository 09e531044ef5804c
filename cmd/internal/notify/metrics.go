package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the broker's Prometheus instruments. A nil *Metrics is
// accepted everywhere so unit tests can skip registration entirely.
type Metrics struct {
	Connections           prometheus.Gauge
	Delivered             prometheus.Counter
	Dropped               prometheus.Counter
	RateLimited           prometheus.Counter
	PersistFailures       prometheus.Counter
	HeartbeatTerminations prometheus.Counter
	HandshakeRejects      *prometheus.CounterVec
}

// NewMetrics registers the broker instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "herald_ws_connections",
			Help: "Live WebSocket connections.",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "herald_notifications_delivered_total",
			Help: "Notifications enqueued to a live connection.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "herald_notifications_dropped_total",
			Help: "Sends skipped because a connection was down or backpressured.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "herald_ws_rate_limited_total",
			Help: "Inbound frames rejected by the per-connection rate limiter.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "herald_history_persist_failures_total",
			Help: "Best-effort history writes that failed; delivery is unaffected.",
		}),
		HeartbeatTerminations: factory.NewCounter(prometheus.CounterOpts{
			Name: "herald_ws_heartbeat_terminations_total",
			Help: "Connections force-closed by the heartbeat sweep.",
		}),
		HandshakeRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_ws_handshake_rejects_total",
			Help: "Handshake attempts rejected before admission.",
		}, []string{"reason"}),
	}
}

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks live subscriptions. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	kicks       *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chirp",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live websocket subscriptions.",
		}),
		kicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "realtime",
			Name:      "server_disconnects_total",
			Help:      "Subscriptions closed by the server, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) kicked(reason string, n int) {
	if m == nil {
		return
	}
	m.kicks.WithLabelValues(reason).Add(float64(n))
}

package revocation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts issuer and checker outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	revocations *prometheus.CounterVec
	checks      *prometheus.CounterVec
}

// NewMetrics registers the revocation collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "revocation",
			Name:      "revocations_total",
			Help:      "Revoke-all-sessions calls by result.",
		}, []string{"result"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "revocation",
			Name:      "session_checks_total",
			Help:      "On-demand session checks by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) revocation(result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(result).Inc()
}

func (m *Metrics) check(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

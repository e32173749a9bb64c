package table

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeApplied   = "applied"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
	outcomeDropped   = "dropped"
)

// Metrics counts fetch outcomes per table. A nil *Metrics is a no-op.
type Metrics struct {
	fetches *prometheus.CounterVec
}

// NewMetrics registers the table collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		fetches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "table_fetch_total",
			Help: "Table fetches by outcome: applied, failed, discarded (superseded) or dropped (poll tick during a fetch).",
		}, []string{"table", "outcome"}),
	}
}

func (m *Metrics) fetch(table, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(table, outcome).Inc()
}

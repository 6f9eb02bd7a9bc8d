// Package metrics defines the gateway's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the gateway records. One instance is
// built in main and threaded to the components that need it.
type Metrics struct {
	// ChatTurns counts completed chat turns by vendor and outcome
	// ("ok", "error", "cancelled").
	ChatTurns *prometheus.CounterVec

	// Envelopes counts outbound client events by envelope type.
	Envelopes *prometheus.CounterVec

	// TurnDuration observes wall-clock seconds per chat turn by vendor.
	TurnDuration *prometheus.HistogramVec

	// CacheRefreshErrors counts failed application-info fetches during
	// metadata snapshot refreshes.
	CacheRefreshErrors prometheus.Counter
}

// New builds and registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagentic",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Completed chat turns by vendor and outcome.",
		}, []string{"vendor", "outcome"}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagentic",
			Subsystem: "chat",
			Name:      "envelopes_total",
			Help:      "Outbound client events by envelope type.",
		}, []string{"type"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tagentic",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of chat turns.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"vendor"}),
		CacheRefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tagentic",
			Subsystem: "cache",
			Name:      "refresh_errors_total",
			Help:      "Failed application-info fetches during snapshot refreshes.",
		}),
	}
	reg.MustRegister(m.ChatTurns, m.Envelopes, m.TurnDuration, m.CacheRefreshErrors)
	return m
}

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's Prometheus surface. A nil *Metrics is valid and
// records nothing, so hosts that do not scrape can skip construction.
type Metrics struct {
	attempts  *prometheus.CounterVec
	reclaimed prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockreserve",
			Name:      "purchase_attempts_total",
			Help:      "Purchase attempts by outcome.",
		}, []string{"outcome"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockreserve",
			Name:      "reaper_reclaimed_total",
			Help:      "Expired reservations reclaimed by the reaper.",
		}),
	}
	reg.MustRegister(m.attempts, m.reclaimed)
	return m
}

func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}

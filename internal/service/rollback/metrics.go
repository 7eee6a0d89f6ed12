package rollback

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"remedy-audit/internal/domain"
)

// Metrics counts plan fetches and rollback attempts by outcome.
type Metrics struct {
	PlanFetches      *prometheus.CounterVec
	RollbackAttempts *prometheus.CounterVec
	RollbackDuration prometheus.Histogram
}

// NewMetrics creates the rollback metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlanFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "plan_fetches_total",
			Help:      "Rollback plan fetches from the planner, by outcome.",
		}, []string{"outcome"}),
		RollbackAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "rollback_attempts_total",
			Help:      "Confirmed rollback attempts, by outcome.",
		}, []string{"outcome"}),
		RollbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remedy",
			Name:      "rollback_execution_seconds",
			Help:      "Time spent in the executor for confirmed rollbacks.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PlanFetches, m.RollbackAttempts, m.RollbackDuration)
	}
	return m
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(domain.ErrorCode(err))
}

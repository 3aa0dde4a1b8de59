package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts admission decisions.
	// Labels: outcome (allowed, burst, quota, error), category (empty for burst-only checks)
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copyd",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions by outcome",
		},
		[]string{"outcome", "category"},
	)

	// PlanLookupsTotal counts plan tier resolutions.
	// Labels: source (cache, store, default)
	PlanLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copyd",
			Subsystem: "gate",
			Name:      "plan_lookups_total",
			Help:      "Total number of plan tier lookups by source",
		},
		[]string{"source"},
	)

	// BurstKeys tracks keys held by the burst limiter after each sweep.
	BurstKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "copyd",
			Subsystem: "gate",
			Name:      "burst_keys",
			Help:      "Number of subjects tracked by the burst limiter",
		},
	)
)

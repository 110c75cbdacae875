package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_admission_decisions_total",
			Help: "Admission decisions by outcome.",
		},
		[]string{"outcome"},
	)
	reviewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shrike_admission_review_duration_seconds",
			Help:    "End-to-end duration of admission reviews.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)
	violationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_admission_violations_total",
			Help: "Violations produced during admission by enforcement action.",
		},
		[]string{"enforcement_action"},
	)
	evaluationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shrike_admission_evaluation_errors_total",
			Help: "Constraint evaluations that failed rather than producing a verdict.",
		},
	)
)

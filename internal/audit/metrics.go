package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auditRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_audit_runs_total",
			Help: "Audit scan runs by status.",
		},
		[]string{"status"},
	)
	auditViolations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shrike_audit_violations",
			Help: "Violations found by the most recent audit run.",
		},
	)
	auditRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shrike_audit_run_duration_seconds",
			Help:    "Duration of audit scan runs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)
)

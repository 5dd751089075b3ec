// Package metrics provides Prometheus metrics for the lifecycle engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated  prometheus.Counter
	ValidationsRun        prometheus.Counter
	Approvals             prometheus.Counter
	Rejections            prometheus.Counter
	Clarifications        prometheus.Counter
	CriticalBlocks        prometheus.Counter
	PlansCreated          prometheus.Counter
	KnowledgeDegraded     *prometheus.CounterVec
	ProcessingDuration    prometheus.Histogram
	PrescriptionsInReview prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		ValidationsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_validations_total",
			Help: "Total safety validation runs",
		}),
		Approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_approved_total",
			Help: "Total prescriptions approved",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_rejected_total",
			Help: "Total prescriptions rejected",
		}),
		Clarifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clarifications_requested_total",
			Help: "Total clarification requests sent to doctors",
		}),
		CriticalBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_blocked_critical_total",
			Help: "Approvals blocked by critical safety findings",
		}),
		PlansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treatment_plans_created_total",
			Help: "Total treatment plans generated",
		}),
		KnowledgeDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_checks_degraded_total",
			Help: "Safety checks completed without knowledge source data",
		}, []string{"domain"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_processing_duration_seconds",
			Help:    "Prescription processing duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		PrescriptionsInReview: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prescriptions_in_review",
			Help: "Prescriptions currently awaiting pharmacist review",
		}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.ValidationsRun,
		m.Approvals,
		m.Rejections,
		m.Clarifications,
		m.CriticalBlocks,
		m.PlansCreated,
		m.KnowledgeDegraded,
		m.ProcessingDuration,
		m.PrescriptionsInReview,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

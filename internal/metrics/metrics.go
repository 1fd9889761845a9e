// Package metrics exposes Prometheus instrumentation for scoring, case
// transitions, exports and webhook delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every portal collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Assessments by resulting eligibility level
	Assessments *prometheus.CounterVec

	// Rejected submissions
	ValidationFailures prometheus.Counter

	// Scoring latency
	ScoreLatency prometheus.Histogram

	// Case transitions by source and target state
	Transitions *prometheus.CounterVec

	// Denied transitions by guard
	Denials *prometheus.CounterVec

	// Exports by whether they carried warnings
	Exports *prometheus.CounterVec

	// Webhook deliveries by outcome
	Notifications *prometheus.CounterVec

	// Milestones flagged overdue by the sweep
	OverdueMilestones prometheus.Counter
}

// New registers the collectors with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_assessments_total",
			Help: "Total scored eligibility assessments by level",
		}, []string{"level"}),

		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_assessment_validation_failures_total",
			Help: "Total submissions rejected by validation",
		}),

		ScoreLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_score_duration_seconds",
			Help:    "Duration of scoring a submission",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_case_transitions_total",
			Help: "Total case state transitions",
		}, []string{"from", "to"}),

		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_case_transition_denials_total",
			Help: "Total denied case transitions by unmet guard",
		}, []string{"guard"}),

		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_exports_total",
			Help: "Total generated exports by whether warnings were reported",
		}, []string{"has_warnings"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_notifications_total",
			Help: "Total webhook notifications by outcome",
		}, []string{"outcome"}), // outcome: "delivered", "failed", "dead_lettered", "replayed"

		OverdueMilestones: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_overdue_milestones_total",
			Help: "Total payment milestones marked overdue",
		}),
	}
}

// ObserveAssessment records a scored submission.
func (m *Metrics) ObserveAssessment(level string, d time.Duration) {
	if m != nil {
		m.Assessments.WithLabelValues(level).Inc()
		m.ScoreLatency.Observe(d.Seconds())
	}
}

// IncrementValidationFailure records a rejected submission.
func (m *Metrics) IncrementValidationFailure() {
	if m != nil {
		m.ValidationFailures.Inc()
	}
}

// IncrementTransition records one state change.
func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// IncrementDenial records a denied transition.
func (m *Metrics) IncrementDenial(guard string) {
	if m != nil {
		m.Denials.WithLabelValues(guard).Inc()
	}
}

// IncrementExport records a generated export.
func (m *Metrics) IncrementExport(hasWarnings bool) {
	if m != nil {
		label := "false"
		if hasWarnings {
			label = "true"
		}
		m.Exports.WithLabelValues(label).Inc()
	}
}

// IncrementNotification records a webhook delivery outcome.
func (m *Metrics) IncrementNotification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

// AddOverdue records milestones flagged overdue.
func (m *Metrics) AddOverdue(n int) {
	if m != nil && n > 0 {
		m.OverdueMilestones.Add(float64(n))
	}
}

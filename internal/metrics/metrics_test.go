package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAssessment("HIGH", time.Millisecond)
		m.IncrementValidationFailure()
		m.IncrementTransition("INTAKE", "USC_IN_FLIGHT")
		m.IncrementDenial("milestones_paid")
		m.IncrementExport(true)
		m.IncrementNotification("delivered")
		m.AddOverdue(2)
	})
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveAssessment("HIGH", time.Millisecond)
	m.ObserveAssessment("HIGH", time.Millisecond)
	m.IncrementValidationFailure()
	m.IncrementTransition("INTAKE", "USC_IN_FLIGHT")
	m.IncrementDenial("milestones_paid")
	m.IncrementExport(true)
	m.IncrementExport(false)
	m.IncrementNotification("dead_lettered")
	m.AddOverdue(3)
	m.AddOverdue(0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Assessments.WithLabelValues("HIGH")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ValidationFailures), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("INTAKE", "USC_IN_FLIGHT")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Denials.WithLabelValues("milestones_paid")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Exports.WithLabelValues("true")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Exports.WithLabelValues("false")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Notifications.WithLabelValues("dead_lettered")), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(m.OverdueMilestones), 0.001)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}

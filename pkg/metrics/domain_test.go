package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueueMetrics(reg)
	m.ObserveDuration("billing-generate", 10*time.Millisecond)
	m.IncOutcome("billing-generate", "completed")
	m.IncOutcome("billing-generate", "completed")
	m.IncOutcome("billing-generate", "failed")
	m.IncEnqueued("billing-generate")
	m.IncDuplicate("billing-generate")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterByLabels(mfs, "clubpay_queue_jobs_total", map[string]string{"queue": "billing-generate", "outcome": "completed"})
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "clubpay_queue_jobs_duplicate_total", "queue", "billing-generate")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)
}

func TestBillingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBillingMetrics(reg)
	m.AddMemberOutcome("generated", 2)
	m.AddMemberOutcome("skipped", 0)
	m.IncRun("ok")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "clubpay_billing_member_outcomes_total", "outcome", "generated")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	_, err = fetchCounterValue(mfs, "clubpay_billing_member_outcomes_total", "outcome", "skipped")
	require.Error(t, err, "zero additions should not create a series")
}

func TestWebhookMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.IncReceived("", "unknown_gateway")
	m.IncPosting("stripe", "duplicate")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterByLabels(mfs, "clubpay_webhook_requests_total", map[string]string{"gateway": "unknown", "result": "unknown_gateway"})
	require.NoError(t, err)
	require.Equal(t, 1.0, got)
}

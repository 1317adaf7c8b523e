package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics counts per-member outcomes of generation runs.
type BillingMetrics struct {
	members *prometheus.CounterVec
	runs    *prometheus.CounterVec
}

func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	members := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_member_outcomes_total",
		Help:      "Per-member generation outcomes (generated, skipped, error, gateway_error).",
	}, []string{"outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_runs_total",
		Help:      "Generation runs by result (ok, no_active_plan, error).",
	}, []string{"result"})
	reg.MustRegister(members, runs)
	return &BillingMetrics{members: members, runs: runs}
}

// AddMemberOutcome adds n members with the given outcome.
func (b *BillingMetrics) AddMemberOutcome(outcome string, n int) {
	if b == nil || b.members == nil || n <= 0 {
		return
	}
	b.members.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

func (b *BillingMetrics) IncRun(result string) {
	if b == nil || b.runs == nil {
		return
	}
	b.runs.WithLabelValues(normalizeLabel(result)).Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound gateway callbacks.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	postings *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Webhook requests by gateway and result (accepted, duplicate, ignored, rejected, unknown_gateway).",
	}, []string{"gateway", "result"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_postings_total",
		Help:      "Worker-side webhook postings by gateway and outcome.",
	}, []string{"gateway", "outcome"})
	reg.MustRegister(received, postings)
	return &WebhookMetrics{received: received, postings: postings}
}

func (w *WebhookMetrics) IncReceived(gateway, result string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}

func (w *WebhookMetrics) IncPosting(gateway, outcome string) {
	if w == nil || w.postings == nil {
		return
	}
	w.postings.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}

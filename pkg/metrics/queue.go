package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks job outcomes per queue.
type QueueMetrics struct {
	duration   *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	enqueued   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_job_duration_seconds",
		Help:      "Duration of queue job handlers in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"queue"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_total",
		Help:      "Processed queue jobs by outcome (completed, retried, failed).",
	}, []string{"queue", "outcome"})
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_enqueued_total",
		Help:      "Jobs accepted by the queue.",
	}, []string{"queue"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_duplicate_total",
		Help:      "Submissions dropped because a job with the same id exists.",
	}, []string{"queue"})
	reg.MustRegister(duration, outcomes, enqueued, duplicates)
	return &QueueMetrics{
		duration:   duration,
		outcomes:   outcomes,
		enqueued:   enqueued,
		duplicates: duplicates,
	}
}

func (q *QueueMetrics) ObserveDuration(queue string, d time.Duration) {
	if q == nil || q.duration == nil {
		return
	}
	q.duration.WithLabelValues(normalizeLabel(queue)).Observe(d.Seconds())
}

func (q *QueueMetrics) IncOutcome(queue, outcome string) {
	if q == nil || q.outcomes == nil {
		return
	}
	q.outcomes.WithLabelValues(normalizeLabel(queue), normalizeLabel(outcome)).Inc()
}

func (q *QueueMetrics) IncEnqueued(queue string) {
	if q == nil || q.enqueued == nil {
		return
	}
	q.enqueued.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (q *QueueMetrics) IncDuplicate(queue string) {
	if q == nil || q.duplicates == nil {
		return
	}
	q.duplicates.WithLabelValues(normalizeLabel(queue)).Inc()
}

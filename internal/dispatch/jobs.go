// Package dispatch turns the monthly trigger into one generation job per club
// and defines the queues, job ids and payloads the workers share.
package dispatch

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

const (
	QueueBillingDispatch = "billing-dispatch"
	QueueBillingGenerate = "billing-generate"
	QueuePaymentWebhooks = "payment-webhooks"

	JobBillingDispatch = "billing.dispatch"
	JobBillingGenerate = "billing.generate"
	JobPaymentWebhook  = "payment.webhook"

	dispatchAttempts = 3
	dispatchBackoff  = 30 * time.Second
)

// DispatchPayload starts a coordinator run for one billing key.
type DispatchPayload struct {
	BillingPeriod string `json:"billingPeriod" validate:"required,len=7"`
}

// GeneratePayload runs charge generation for one club and billing key.
type GeneratePayload struct {
	TenantID      string `json:"tenantId" validate:"required"`
	ActorID       string `json:"actorId" validate:"required"`
	BillingPeriod string `json:"billingPeriod" validate:"required,len=7"`
}

// DispatchJobID is stable per billing key, so a repeated trigger is dropped.
func DispatchJobID(billingKey string) string {
	return "dispatch-" + billingKey
}

// GenerateJobID is stable per club and billing key.
func GenerateJobID(tenantID, billingKey string) string {
	return fmt.Sprintf("generate-%s-%s", tenantID, billingKey)
}

// WebhookJobID collapses retransmissions of one gateway transaction. Only
// paid events use the bare id; other kinds carry a suffix so a failed or
// cancelled callback never swallows a later payment for the same transaction.
func WebhookJobID(event *gateway.NormalizedEvent) string {
	id := fmt.Sprintf("webhook:%s:%s", event.Gateway, event.TransactionID)
	if event.Kind != enums.WebhookEventPaid {
		id += ":" + event.Kind.String()
	}
	return id
}

// Queues holds the three billing queues.
type Queues struct {
	Dispatch *queue.Queue
	Generate *queue.Queue
	Webhooks *queue.Queue
}

func NewQueues(client *redis.Client, cfg config.QueueConfig, billing config.BillingConfig, logg *logger.Logger, m *metrics.QueueMetrics) (*Queues, error) {
	build := func(name string, attempts int, backoff time.Duration) (*queue.Queue, error) {
		return queue.New(queue.Params{
			Client: client,
			Name:   name,
			Prefix: cfg.Prefix,
			Defaults: queue.Options{
				Attempts:      attempts,
				Backoff:       backoff,
				KeepCompleted: cfg.CompletedRetention,
				KeepFailed:    cfg.FailedRetention,
			},
			Logger:  logg,
			Metrics: m,
		})
	}
	dispatchQ, err := build(QueueBillingDispatch, dispatchAttempts, dispatchBackoff)
	if err != nil {
		return nil, err
	}
	generateQ, err := build(QueueBillingGenerate, billing.Attempts, billing.Backoff)
	if err != nil {
		return nil, err
	}
	webhookQ, err := build(QueuePaymentWebhooks, cfg.WebhookAttempts, cfg.WebhookBackoff)
	if err != nil {
		return nil, err
	}
	return &Queues{Dispatch: dispatchQ, Generate: generateQ, Webhooks: webhookQ}, nil
}

// Handlers are the job handlers for each queue.
type Handlers struct {
	Dispatch queue.Handler
	Generate queue.Handler
	Webhook  queue.Handler
}

// NewWorkers builds one worker per queue. The dispatch queue always runs one
// job at a time.
func NewWorkers(q *Queues, handlers Handlers, cfg config.QueueConfig, billing config.BillingConfig, logg *logger.Logger, m *metrics.QueueMetrics) ([]*queue.Worker, error) {
	specs := []struct {
		queue       *queue.Queue
		handler     queue.Handler
		concurrency int
	}{
		{q.Dispatch, handlers.Dispatch, 1},
		{q.Generate, handlers.Generate, billing.Concurrency},
		{q.Webhooks, handlers.Webhook, cfg.WebhookConcurrency},
	}
	workers := make([]*queue.Worker, 0, len(specs))
	for _, spec := range specs {
		w, err := queue.NewWorker(queue.WorkerParams{
			Queue:        spec.queue,
			Handler:      spec.handler,
			Concurrency:  spec.concurrency,
			PollInterval: cfg.PollTimeout,
			Lease:        cfg.StalledLease,
			Logger:       logg,
			Metrics:      m,
		})
		if err != nil {
			return nil, fmt.Errorf("%s worker: %w", spec.queue.Name(), err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

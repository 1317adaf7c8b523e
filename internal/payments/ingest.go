package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/clubpay-backend/internal/dispatch"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

var validate = validator.New()

const (
	resultAccepted       = "accepted"
	resultDuplicate      = "duplicate"
	resultIgnored        = "ignored"
	resultRejected       = "rejected"
	resultUnknownGateway = "unknown_gateway"
)

type jobAdder interface {
	Add(ctx context.Context, spec queue.Spec) (bool, error)
}

// IngestResult describes what happened to one callback.
type IngestResult struct {
	Event    *gateway.NormalizedEvent
	JobID    string
	Enqueued bool
	Ignored  bool
}

// Ingestor verifies gateway callbacks and queues them for posting. It never
// touches club data.
type Ingestor struct {
	gateways *gateway.Registry
	queue    jobAdder
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
}

func NewIngestor(gateways *gateway.Registry, q jobAdder, m *metrics.WebhookMetrics, logg *logger.Logger) (*Ingestor, error) {
	if gateways == nil {
		return nil, errors.New("gateway registry required")
	}
	if q == nil {
		return nil, errors.New("webhook queue required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Ingestor{gateways: gateways, queue: q, metrics: m, logg: logg}, nil
}

// Ingest resolves the gateway, verifies body against headers and enqueues the
// normalized event. body must be the exact bytes received.
func (i *Ingestor) Ingest(ctx context.Context, gatewayName string, body []byte, headers http.Header) (*IngestResult, error) {
	gw, err := i.gateways.Resolve(gatewayName)
	if err != nil {
		i.metrics.IncReceived(gatewayName, resultUnknownGateway)
		return nil, err
	}
	ctx = i.logg.WithGateway(ctx, gw.Name())

	event, err := gw.ParseWebhook(ctx, body, headers)
	if err != nil {
		i.metrics.IncReceived(gw.Name(), resultRejected)
		i.logg.Warn(i.logg.WithField(ctx, "reason", err.Error()), "webhook rejected")
		return nil, err
	}
	if event.Kind == enums.WebhookEventIgnored {
		i.metrics.IncReceived(gw.Name(), resultIgnored)
		return &IngestResult{Event: event, Ignored: true}, nil
	}
	if err := validate.Struct(event); err != nil {
		i.metrics.IncReceived(gw.Name(), resultRejected)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "incomplete webhook event")
	}

	jobID := dispatch.WebhookJobID(event)
	added, err := i.queue.Add(ctx, queue.Spec{
		ID:   jobID,
		Name: dispatch.JobPaymentWebhook,
		Data: event,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue webhook event")
	}
	if added {
		i.metrics.IncReceived(gw.Name(), resultAccepted)
	} else {
		i.metrics.IncReceived(gw.Name(), resultDuplicate)
	}
	i.logg.Info(i.logg.WithFields(ctx, map[string]any{"job_id": jobID, "kind": event.Kind.String(), "enqueued": added}), "webhook accepted")
	return &IngestResult{Event: event, JobID: jobID, Enqueued: added}, nil
}

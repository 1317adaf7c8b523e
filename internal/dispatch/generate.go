package dispatch

import (
	"context"
	"errors"

	"github.com/angelmondragon/clubpay-backend/internal/billing"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

type generator interface {
	Generate(ctx context.Context, tenantID, actorID string, opts billing.GenerateOptions) (*billing.GenerationResult, error)
}

// GenerateHandler runs one club's generation job. Per-member failures are
// part of a successful result; only run-level errors reach the queue's retry
// policy.
type GenerateHandler struct {
	engine generator
	logg   *logger.Logger
}

func NewGenerateHandler(engine generator, logg *logger.Logger) (*GenerateHandler, error) {
	if engine == nil {
		return nil, errors.New("generation engine required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &GenerateHandler{engine: engine, logg: logg}, nil
}

func (h *GenerateHandler) Handle(ctx context.Context, job *queue.Job) error {
	var payload GeneratePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	ctx = h.logg.WithTenantID(ctx, payload.TenantID)
	result, err := h.engine.Generate(ctx, payload.TenantID, payload.ActorID, billing.GenerateOptions{
		BillingPeriod: payload.BillingPeriod,
	})
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 || len(result.GatewayErrors) > 0 {
		h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
			"billing_key":    result.BillingKey,
			"errors":         result.Errors,
			"gateway_errors": result.GatewayErrors,
		}), "generation finished with isolated failures")
	}
	return nil
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/billing"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

type tenantLister interface {
	ListActive(ctx context.Context) ([]models.Club, error)
}

type jobAdder interface {
	Add(ctx context.Context, spec queue.Spec) (bool, error)
	AddBulk(ctx context.Context, specs []queue.Spec) (queue.BulkResult, error)
}

// Summary reports one fan-out.
type Summary struct {
	BillingKey string
	Tenants    int
	Enqueued   []string
	Duplicates []string
}

// Coordinator fans a billing trigger out to per-club generation jobs.
type Coordinator struct {
	tenants  tenantLister
	dispatch jobAdder
	generate jobAdder
	logg     *logger.Logger
	now      func() time.Time
}

func NewCoordinator(tenants tenantLister, queues *Queues, logg *logger.Logger) (*Coordinator, error) {
	if tenants == nil {
		return nil, errors.New("tenant lister required")
	}
	if queues == nil || queues.Dispatch == nil || queues.Generate == nil {
		return nil, errors.New("dispatch and generate queues required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Coordinator{
		tenants:  tenants,
		dispatch: queues.Dispatch,
		generate: queues.Generate,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Trigger submits the coordinator job for a billing period; empty means the
// current UTC month. It reports false when the run was already submitted.
func (c *Coordinator) Trigger(ctx context.Context, billingPeriod string) (bool, error) {
	key, err := c.billingKey(billingPeriod)
	if err != nil {
		return false, err
	}
	added, err := c.dispatch.Add(ctx, queue.Spec{
		ID:   DispatchJobID(key),
		Name: JobBillingDispatch,
		Data: DispatchPayload{BillingPeriod: key},
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue billing dispatch")
	}
	return added, nil
}

// Dispatch lists the ACTIVE clubs and submits one generation job per club in
// a single bulk call. Suspended clubs are not billed: they get no generation
// job for the month, and billing one later is a direct Engine.Generate call.
// Job ids are derived from club and billing key, so a second dispatch for the
// same month enqueues nothing.
func (c *Coordinator) Dispatch(ctx context.Context, billingPeriod string) (*Summary, error) {
	key, err := c.billingKey(billingPeriod)
	if err != nil {
		return nil, err
	}
	clubs, err := c.tenants.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	specs := make([]queue.Spec, 0, len(clubs))
	for _, club := range clubs {
		specs = append(specs, queue.Spec{
			ID:   GenerateJobID(club.ID, key),
			Name: JobBillingGenerate,
			Data: GeneratePayload{
				TenantID:      club.ID,
				ActorID:       audit.SystemActor,
				BillingPeriod: key,
			},
		})
	}
	result, err := c.generate.AddBulk(ctx, specs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue generation jobs")
	}

	summary := &Summary{
		BillingKey: key,
		Tenants:    len(clubs),
		Enqueued:   result.Added,
		Duplicates: result.Duplicates,
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"billing_key": key,
		"tenants":     summary.Tenants,
		"enqueued":    len(summary.Enqueued),
		"duplicates":  len(summary.Duplicates),
	}), "billing dispatch fanned out")
	return summary, nil
}

// HandleDispatch is the billing-dispatch queue handler.
func (c *Coordinator) HandleDispatch(ctx context.Context, job *queue.Job) error {
	var payload DispatchPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	_, err := c.Dispatch(ctx, payload.BillingPeriod)
	return err
}

func (c *Coordinator) billingKey(billingPeriod string) (string, error) {
	if billingPeriod == "" {
		return billing.CurrentPeriod(c.now()).Key(), nil
	}
	period, err := billing.ParsePeriod(billingPeriod)
	if err != nil {
		return "", fmt.Errorf("billing period: %w", err)
	}
	return period.Key(), nil
}

package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/billing"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

const gatewayRetryJobName = "gateway-retry"

type activeClubLister interface {
	ListActive(ctx context.Context) ([]models.Club, error)
}

type gatewayRedispatcher interface {
	RetryGatewayDispatch(ctx context.Context, tenantID, actorID, billingPeriod string) (*billing.DispatchReport, error)
}

// GatewayRetryJobParams configure the daily re-dispatch sweep.
type GatewayRetryJobParams struct {
	Logger *logger.Logger
	Clubs  activeClubLister
	Engine gatewayRedispatcher
}

// NewGatewayRetryJob returns the job that re-opens gateway payments for
// charges that never reached the gateway or failed there. It covers the
// previous and the current period, so charges generated late in a month are
// still retried after the month turns.
func NewGatewayRetryJob(params GatewayRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Clubs == nil {
		return nil, fmt.Errorf("club lister required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("billing engine required")
	}
	return &gatewayRetryJob{
		logg:   params.Logger,
		clubs:  params.Clubs,
		engine: params.Engine,
		now:    time.Now,
	}, nil
}

type gatewayRetryJob struct {
	logg   *logger.Logger
	clubs  activeClubLister
	engine gatewayRedispatcher
	now    func() time.Time
}

func (j *gatewayRetryJob) Name() string { return gatewayRetryJobName }

// Run sweeps every active club. One club failing does not stop the others;
// their errors are combined into the result.
func (j *gatewayRetryJob) Run(ctx context.Context) error {
	clubs, err := j.clubs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active clubs: %w", err)
	}
	current := billing.PeriodOf(j.now())
	keys := []string{current.Prev().Key(), current.Key()}

	var errs error
	dispatched, gatewayErrors := 0, 0
	for _, club := range clubs {
		clubCtx := j.logg.WithTenantID(ctx, club.ID)
		for _, key := range keys {
			keyCtx := j.logg.WithFields(clubCtx, map[string]any{"billing_key": key})
			report, err := j.engine.RetryGatewayDispatch(keyCtx, club.ID, audit.SystemActor, key)
			if err != nil {
				j.logg.Error(keyCtx, "gateway retry failed", err)
				errs = multierr.Append(errs, fmt.Errorf("club %s period %s: %w", club.ID, key, err))
				continue
			}
			dispatched += report.Dispatched
			gatewayErrors += len(report.GatewayErrors)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"billing_keys":   keys,
		"clubs":          len(clubs),
		"dispatched":     dispatched,
		"gateway_errors": gatewayErrors,
	}), "gateway retry sweep complete")
	return errs
}

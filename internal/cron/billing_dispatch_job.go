package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/clubpay-backend/internal/billing"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

const billingDispatchJobName = "billing-dispatch"

type dispatchTrigger interface {
	Trigger(ctx context.Context, billingPeriod string) (bool, error)
}

// BillingDispatchJobParams configure the monthly billing trigger.
type BillingDispatchJobParams struct {
	Logger     *logger.Logger
	Trigger    dispatchTrigger
	BillingDay int
	// Period, when set, forces a trigger for that period on every run
	// regardless of the calendar day. It is used for backfills.
	Period string
}

// NewBillingDispatchJob returns the job that queues the month's dispatch on
// the billing day. Re-runs within a month are absorbed by the job id.
func NewBillingDispatchJob(params BillingDispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Trigger == nil {
		return nil, fmt.Errorf("dispatch trigger required")
	}
	if params.BillingDay < 1 || params.BillingDay > 28 {
		return nil, fmt.Errorf("billing day must be between 1 and 28, got %d", params.BillingDay)
	}
	if params.Period != "" {
		if _, err := billing.ParsePeriod(params.Period); err != nil {
			return nil, err
		}
	}
	return &billingDispatchJob{
		logg:       params.Logger,
		trigger:    params.Trigger,
		billingDay: params.BillingDay,
		period:     params.Period,
		now:        time.Now,
	}, nil
}

type billingDispatchJob struct {
	logg       *logger.Logger
	trigger    dispatchTrigger
	billingDay int
	period     string
	now        func() time.Time
}

func (j *billingDispatchJob) Name() string { return billingDispatchJobName }

func (j *billingDispatchJob) Run(ctx context.Context) error {
	period := j.period
	if period == "" {
		today := j.now().UTC()
		if today.Day() != j.billingDay {
			j.logg.Debug(j.logg.WithField(ctx, "billing_day", j.billingDay), "not the billing day; skipping dispatch")
			return nil
		}
		period = billing.PeriodOf(today).Key()
	}

	added, err := j.trigger.Trigger(ctx, period)
	if err != nil {
		return fmt.Errorf("trigger billing dispatch: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"billing_key": period, "enqueued": added}), "billing dispatch triggered")
	return nil
}

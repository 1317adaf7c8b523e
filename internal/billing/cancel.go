package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

// Cancel voids a charge. An opened gateway payment is cancelled first; if the
// gateway refuses, the charge is left untouched. Cancelling twice is a no-op,
// and a cancelled charge no longer blocks generation for its period.
func (e *Engine) Cancel(ctx context.Context, tenantID, actorID string, chargeID uuid.UUID) (*models.Charge, error) {
	actorID = actorOrSystem(actorID)
	return tenancy.Query(ctx, e.accessor, tenantID, func(scope *tenancy.Scope) (*models.Charge, error) {
		charge, err := e.repos(scope).GetCharge(chargeID)
		if err != nil {
			return nil, repoError(err, "load charge")
		}
		switch charge.Status {
		case enums.ChargeStatusCancelled:
			return charge, nil
		case enums.ChargeStatusPaid:
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paid charges cannot be cancelled")
		}

		metadata := map[string]any{"previous_status": charge.Status.String()}
		if charge.ExternalID != nil && charge.Gateway != nil {
			gw, err := e.gateways.Resolve(*charge.Gateway)
			if err != nil {
				return nil, err
			}
			if err := gw.CancelCharge(ctx, *charge.ExternalID); err != nil {
				return nil, err
			}
			metadata["gateway"] = gw.Name()
			metadata["external_id"] = *charge.ExternalID
		}

		err = scope.Transaction(func(tx *tenancy.Scope) error {
			repo := e.repos(tx)
			if err := repo.UpdateChargeStatus(charge.ID, enums.ChargeStatusCancelled); err != nil {
				return repoError(err, "cancel charge")
			}
			return repo.RecordAudit(audit.Entry{
				ActorID:    actorID,
				Action:     audit.ActionChargeCancelled,
				EntityType: audit.EntityCharge,
				EntityID:   charge.ID.String(),
				Metadata:   metadata,
			})
		})
		if err != nil {
			return nil, err
		}
		charge.Status = enums.ChargeStatusCancelled
		return charge, nil
	})
}

// RetryGatewayDispatch opens gateway payments for the period's charges that
// never reached the gateway or whose payment failed. Each charge is handled
// independently, like generation.
func (e *Engine) RetryGatewayDispatch(ctx context.Context, tenantID, actorID, billingPeriod string) (*DispatchReport, error) {
	if err := tenancy.ValidateID(tenantID); err != nil {
		return nil, err
	}
	period, err := e.resolvePeriod(billingPeriod)
	if err != nil {
		return nil, err
	}
	actorID = actorOrSystem(actorID)
	ctx = e.logg.WithFields(ctx, map[string]any{"tenant_id": tenantID, "billing_key": period.Key()})

	gw, unavailable, err := e.gatewayFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &DispatchReport{
		TenantID:      tenantID,
		BillingKey:    period.Key(),
		GatewayErrors: []GatewayError{},
		Charges:       []ChargeSummary{},
	}
	err = e.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		charges, err := e.repos(scope).ListUndispatched(Window{From: period.Start(), To: period.End()})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list undispatched charges")
		}
		for i := range charges {
			charge := &charges[i]
			summary := summarize(charge)
			entry := &audit.Entry{
				ActorID:    actorID,
				Action:     audit.ActionChargeDispatched,
				EntityType: audit.EntityCharge,
				EntityID:   charge.ID.String(),
				Metadata:   map[string]any{"previous_status": charge.Status.String()},
			}
			if err := e.dispatch(ctx, scope, gw, unavailable, charge, chargeIdempotencyKey(charge), entry, &summary); err != nil {
				report.GatewayErrors = append(report.GatewayErrors, gatewayError(charge, err))
				e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"charge_id": charge.ID.String(), "reason": reason(err)}), "charge re-dispatch failed")
				continue
			}
			report.Dispatched++
			report.Charges = append(report.Charges, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddMemberOutcome(outcomeGatewayError, len(report.GatewayErrors))
	return report, nil
}

func repoError(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

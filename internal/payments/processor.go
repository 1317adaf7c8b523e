package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

// Outcome is what posting one event did.
type Outcome string

const (
	OutcomePosted    Outcome = "posted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRetry     Outcome = "pending_retry"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// sqliteTxnColumn is how SQLite names the payments uniqueness violation.
const sqliteTxnColumn = "payments.gateway_transaction_id"

var errDuplicatePayment = errors.New("duplicate gateway transaction")

type tenantDirectory interface {
	List(ctx context.Context) ([]models.Club, error)
}

// Processor posts queued gateway events to the owning club's ledger.
type Processor struct {
	accessor *tenancy.Accessor
	tenants  tenantDirectory
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewProcessor(accessor *tenancy.Accessor, tenants tenantDirectory, m *metrics.WebhookMetrics, logg *logger.Logger) (*Processor, error) {
	if accessor == nil {
		return nil, errors.New("tenant accessor required")
	}
	if tenants == nil {
		return nil, errors.New("tenant directory required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Processor{accessor: accessor, tenants: tenants, metrics: m, logg: logg, now: time.Now}, nil
}

// Handle is the payment-webhooks queue handler.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var event gateway.NormalizedEvent
	if err := job.Decode(&event); err != nil {
		return err
	}
	_, err := p.Process(ctx, &event)
	return err
}

// Process applies one event. Replays are harmless: a transaction id already
// posted is skipped and terminal charges are not moved.
func (p *Processor) Process(ctx context.Context, event *gateway.NormalizedEvent) (Outcome, error) {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"gateway":        event.Gateway,
		"transaction_id": event.TransactionID,
		"kind":           event.Kind.String(),
	})
	if event.Kind == enums.WebhookEventIgnored {
		p.metrics.IncPosting(event.Gateway, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	tenantID, err := p.resolveTenant(ctx, event)
	if err != nil {
		return "", err
	}
	ctx = p.logg.WithTenantID(ctx, tenantID)

	var outcome Outcome
	err = p.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		charge, err := findCharge(scope, event)
		if err != nil {
			return err
		}
		if charge == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "charge not found").Permanent()
		}
		switch event.Kind {
		case enums.WebhookEventPaid:
			outcome, err = p.postPayment(scope, charge, event)
		case enums.WebhookEventFailed:
			outcome, err = p.markFailed(scope, charge, event)
		case enums.WebhookEventCancelled:
			outcome, err = p.markCancelled(scope, charge, event)
		default:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported event kind %q", event.Kind)).Permanent()
		}
		return err
	})
	if err != nil {
		p.metrics.IncPosting(event.Gateway, "error")
		return "", err
	}
	p.metrics.IncPosting(event.Gateway, string(outcome))
	p.logg.Info(p.logg.WithField(ctx, "outcome", string(outcome)), "webhook event processed")
	return outcome, nil
}

func (p *Processor) postPayment(scope *tenancy.Scope, charge *models.Charge, event *gateway.NormalizedEvent) (Outcome, error) {
	var existing int64
	err := scope.Table(tenancy.TablePayments).
		Where("gateway_transaction_id = ?", event.TransactionID).
		Count(&existing).Error
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment")
	}
	if existing > 0 {
		return OutcomeDuplicate, nil
	}

	paidAt := event.OccurredAt.UTC()
	if paidAt.IsZero() {
		paidAt = p.now().UTC()
	}
	amount := event.AmountCents
	if amount <= 0 {
		amount = charge.AmountCents
	}
	payment := &models.Payment{
		ID:                   uuid.New(),
		ChargeID:             charge.ID,
		Gateway:              event.Gateway,
		GatewayTransactionID: event.TransactionID,
		AmountCents:          amount,
		PaidAt:               paidAt,
	}
	if len(event.Raw) > 0 {
		payment.Raw = dbtypes.JSONB(event.Raw)
	}

	err = scope.Transaction(func(tx *tenancy.Scope) error {
		if err := tx.Table(tenancy.TablePayments).Create(payment).Error; err != nil {
			if isDuplicatePayment(err) {
				return errDuplicatePayment
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if charge.Status != enums.ChargeStatusPaid {
			err := tx.Table(tenancy.TableCharges).Where("id = ?", charge.ID).Updates(map[string]any{
				"status":     enums.ChargeStatusPaid,
				"paid_at":    paidAt,
				"updated_at": p.now().UTC(),
			}).Error
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark charge paid")
			}
		}
		if err := audit.Record(tx, audit.Entry{
			ActorID:    audit.SystemActor,
			Action:     audit.ActionPaymentRecorded,
			EntityType: audit.EntityPayment,
			EntityID:   payment.ID.String(),
			Metadata: map[string]any{
				"charge_id":      charge.ID.String(),
				"gateway":        event.Gateway,
				"transaction_id": event.TransactionID,
				"amount_cents":   amount,
				"amount":         audit.AmountMajor(amount),
			},
		}); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:    audit.SystemActor,
			Action:     audit.ActionChargePaid,
			EntityType: audit.EntityCharge,
			EntityID:   charge.ID.String(),
			Metadata: map[string]any{
				"previous_status": charge.Status.String(),
				"payment_id":      payment.ID.String(),
			},
		})
	})
	if errors.Is(err, errDuplicatePayment) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomePosted, nil
}

func (p *Processor) markFailed(scope *tenancy.Scope, charge *models.Charge, event *gateway.NormalizedEvent) (Outcome, error) {
	if charge.Status.IsTerminal() || staleExternal(charge, event) {
		return OutcomeStale, nil
	}
	err := p.transition(scope, charge, enums.ChargeStatusPendingRetry, audit.ActionChargePaymentFailed, event)
	if err != nil {
		return "", err
	}
	return OutcomeRetry, nil
}

func (p *Processor) markCancelled(scope *tenancy.Scope, charge *models.Charge, event *gateway.NormalizedEvent) (Outcome, error) {
	if charge.Status.IsTerminal() || staleExternal(charge, event) {
		return OutcomeStale, nil
	}
	err := p.transition(scope, charge, enums.ChargeStatusCancelled, audit.ActionChargeGatewayCancel, event)
	if err != nil {
		return "", err
	}
	return OutcomeCancelled, nil
}

func (p *Processor) transition(scope *tenancy.Scope, charge *models.Charge, status enums.ChargeStatus, action string, event *gateway.NormalizedEvent) error {
	return scope.Transaction(func(tx *tenancy.Scope) error {
		err := tx.Table(tenancy.TableCharges).Where("id = ?", charge.ID).Updates(map[string]any{
			"status":     status,
			"updated_at": p.now().UTC(),
		}).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update charge status")
		}
		return audit.Record(tx, audit.Entry{
			ActorID:    audit.SystemActor,
			Action:     action,
			EntityType: audit.EntityCharge,
			EntityID:   charge.ID.String(),
			Metadata: map[string]any{
				"previous_status": charge.Status.String(),
				"gateway":         event.Gateway,
				"transaction_id":  event.TransactionID,
			},
		})
	})
}

// resolveTenant trusts the event's tenant id only after finding the charge in
// that partition; otherwise every club is probed in turn.
func (p *Processor) resolveTenant(ctx context.Context, event *gateway.NormalizedEvent) (string, error) {
	if event.TenantID != "" && tenancy.ValidateID(event.TenantID) == nil {
		found, err := p.owns(ctx, event.TenantID, event)
		if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return "", err
		}
		if found {
			return event.TenantID, nil
		}
		p.logg.Warn(ctx, "event tenant does not own the charge; probing all clubs")
	}

	clubs, err := p.tenants.List(ctx)
	if err != nil {
		return "", err
	}
	for _, club := range clubs {
		if club.ID == event.TenantID {
			continue
		}
		found, err := p.owns(ctx, club.ID, event)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			return "", err
		}
		if found {
			return club.ID, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeNotFound, "no club owns the charge referenced by the event").Permanent()
}

func (p *Processor) owns(ctx context.Context, tenantID string, event *gateway.NormalizedEvent) (bool, error) {
	return tenancy.Query(ctx, p.accessor, tenantID, func(scope *tenancy.Scope) (bool, error) {
		charge, err := findCharge(scope, event)
		return charge != nil, err
	})
}

// findCharge looks the charge up by our id first, then by the gateway's id.
// It returns nil when the partition has no such charge.
func findCharge(scope *tenancy.Scope, event *gateway.NormalizedEvent) (*models.Charge, error) {
	q := scope.Table(tenancy.TableCharges)
	if id, err := uuid.Parse(event.ChargeID); err == nil {
		q = q.Where("id = ?", id)
	} else if event.ExternalID != "" {
		q = q.Where("external_id = ? AND gateway = ?", event.ExternalID, event.Gateway)
	} else {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event carries no charge reference").Permanent()
	}

	var charge models.Charge
	if err := q.Take(&charge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load charge")
	}
	return &charge, nil
}

// staleExternal reports a callback for a gateway payment the charge has since
// replaced, e.g. after a re-dispatch.
func staleExternal(charge *models.Charge, event *gateway.NormalizedEvent) bool {
	return event.ExternalID != "" && charge.ExternalID != nil && *charge.ExternalID != event.ExternalID
}

func isDuplicatePayment(err error) bool {
	return db.IsUniqueViolation(err, tenancy.UniquePaymentTxnConstraint) || db.IsUniqueViolation(err, sqliteTxnColumn)
}

package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/fieldcrypt"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
)

const (
	outcomeGenerated    = "generated"
	outcomeSkipped      = "skipped"
	outcomeError        = "error"
	outcomeGatewayError = "gateway_error"

	runOK           = "ok"
	runNoActivePlan = "no_active_plan"
	runError        = "error"
)

type clubLookup interface {
	Get(ctx context.Context, id string) (*models.Club, error)
}

// EngineParams wires the generation engine. Repositories defaults to NewRepository
// and Clock to time.Now.
type EngineParams struct {
	Accessor     *tenancy.Accessor
	Clubs        clubLookup
	Gateways     *gateway.Registry
	Codec        *fieldcrypt.Codec
	Repositories RepositoryFactory
	Config       config.BillingConfig
	Metrics      *metrics.BillingMetrics
	Logger       *logger.Logger
	Clock        func() time.Time
}

// Engine generates and manages member charges for one club at a time.
type Engine struct {
	accessor *tenancy.Accessor
	clubs    clubLookup
	gateways *gateway.Registry
	codec    *fieldcrypt.Codec
	repos    RepositoryFactory
	cfg      config.BillingConfig
	method   enums.PaymentMethod
	metrics  *metrics.BillingMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// GenerateOptions narrows a run. BillingPeriod is any timestamp, date or
// YYYY-MM inside the month; empty means the current UTC month.
type GenerateOptions struct {
	BillingPeriod   string
	DueDateOverride *time.Time
}

type MemberError struct {
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}

type GatewayError struct {
	ChargeID string `json:"charge_id"`
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}

// ChargeSummary describes a charge created or dispatched by a run.
type ChargeSummary struct {
	ID          uuid.UUID          `json:"id"`
	MemberID    uuid.UUID          `json:"member_id"`
	AmountCents int64              `json:"amount_cents"`
	DueDate     time.Time          `json:"due_date"`
	Status      enums.ChargeStatus `json:"status"`
	Gateway     string             `json:"gateway,omitempty"`
	ExternalID  string             `json:"external_id,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

type GenerationResult struct {
	TenantID      string          `json:"tenant_id"`
	BillingKey    string          `json:"billing_key"`
	DueDate       time.Time       `json:"due_date"`
	Generated     int             `json:"generated"`
	Skipped       int             `json:"skipped"`
	Errors        []MemberError   `json:"errors"`
	GatewayErrors []GatewayError  `json:"gateway_errors"`
	Charges       []ChargeSummary `json:"charges"`
}

// DispatchReport summarizes a RetryGatewayDispatch pass.
type DispatchReport struct {
	TenantID      string          `json:"tenant_id"`
	BillingKey    string          `json:"billing_key"`
	Dispatched    int             `json:"dispatched"`
	GatewayErrors []GatewayError  `json:"gateway_errors"`
	Charges       []ChargeSummary `json:"charges"`
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Accessor == nil {
		return nil, fmt.Errorf("tenant accessor required")
	}
	if p.Clubs == nil {
		return nil, fmt.Errorf("club lookup required")
	}
	if p.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if p.Codec == nil {
		return nil, fmt.Errorf("field codec required")
	}
	method := enums.PaymentMethodPIX
	if raw := strings.ToUpper(strings.TrimSpace(p.Config.DefaultMethod)); raw != "" {
		parsed, err := enums.ParsePaymentMethod(raw)
		if err != nil {
			return nil, err
		}
		method = parsed
	}
	if p.Repositories == nil {
		p.Repositories = NewRepository
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if strings.TrimSpace(p.Config.Currency) == "" {
		p.Config.Currency = "BRL"
	}
	return &Engine{
		accessor: p.Accessor,
		clubs:    p.Clubs,
		gateways: p.Gateways,
		codec:    p.Codec,
		repos:    p.Repositories,
		cfg:      p.Config,
		method:   method,
		metrics:  p.Metrics,
		logg:     p.Logger,
		now:      p.Clock,
	}, nil
}

// Generate bills every currently enrolled member of the club for one period.
// Members that already hold a non-cancelled charge in the period are skipped.
// A failure for one member is recorded in the result and never stops the run;
// a gateway failure leaves the charge PENDING for RetryGatewayDispatch.
func (e *Engine) Generate(ctx context.Context, tenantID, actorID string, opts GenerateOptions) (*GenerationResult, error) {
	if err := tenancy.ValidateID(tenantID); err != nil {
		return nil, err
	}
	period, err := e.resolvePeriod(opts.BillingPeriod)
	if err != nil {
		return nil, err
	}
	actorID = actorOrSystem(actorID)

	dueDate := period.DueDate()
	windows := []Window{{From: period.Start(), To: period.End()}}
	if opts.DueDateOverride != nil {
		dueDate = opts.DueDateOverride.UTC()
		day := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
		windows = append(windows, Window{From: day, To: day.AddDate(0, 0, 1)})
	}

	ctx = e.logg.WithFields(ctx, map[string]any{"tenant_id": tenantID, "billing_key": period.Key()})

	gw, unavailable, err := e.gatewayFor(ctx, tenantID)
	if err != nil {
		e.metrics.IncRun(runError)
		return nil, err
	}
	method := e.method
	if gw != nil {
		method = gateway.MethodFor(gw, method)
	}

	result := &GenerationResult{
		TenantID:      tenantID,
		BillingKey:    period.Key(),
		DueDate:       dueDate,
		Errors:        []MemberError{},
		GatewayErrors: []GatewayError{},
		Charges:       []ChargeSummary{},
	}

	err = e.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		repo := e.repos(scope)
		active, err := repo.CountActivePlans()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active plans")
		}
		if active == 0 {
			return e.noActivePlan(tenantID)
		}
		enrollments, err := repo.ListActiveEnrollments()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list enrollments")
		}

		for _, enrollment := range enrollments {
			charge, err := e.createCharge(scope, actorID, enrollment, period, dueDate, method, windows)
			if err != nil {
				result.Errors = append(result.Errors, MemberError{MemberID: enrollment.MemberID.String(), Reason: reason(err)})
				e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"member_id": enrollment.MemberID.String(), "reason": reason(err)}), "charge generation failed for member")
				continue
			}
			if charge == nil {
				result.Skipped++
				continue
			}
			result.Generated++

			summary := summarize(charge)
			if err := e.dispatch(ctx, scope, gw, unavailable, charge, chargeIdempotencyKey(charge), nil, &summary); err != nil {
				result.GatewayErrors = append(result.GatewayErrors, gatewayError(charge, err))
				e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"charge_id": charge.ID.String(), "reason": reason(err)}), "charge dispatch to gateway failed")
			}
			result.Charges = append(result.Charges, summary)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNoActivePlan) {
			e.metrics.IncRun(runNoActivePlan)
		} else {
			e.metrics.IncRun(runError)
		}
		return nil, err
	}

	e.metrics.IncRun(runOK)
	e.metrics.AddMemberOutcome(outcomeGenerated, result.Generated)
	e.metrics.AddMemberOutcome(outcomeSkipped, result.Skipped)
	e.metrics.AddMemberOutcome(outcomeError, len(result.Errors))
	e.metrics.AddMemberOutcome(outcomeGatewayError, len(result.GatewayErrors))

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"generated":      result.Generated,
		"skipped":        result.Skipped,
		"errors":         len(result.Errors),
		"gateway_errors": len(result.GatewayErrors),
	}), "charge generation finished")
	return result, nil
}

// createCharge returns nil without error when the member is already billed.
func (e *Engine) createCharge(scope *tenancy.Scope, actorID string, enrollment Enrollment, period Period, dueDate time.Time, method enums.PaymentMethod, windows []Window) (*models.Charge, error) {
	var created *models.Charge
	err := scope.Transaction(func(tx *tenancy.Scope) error {
		repo := e.repos(tx)
		exists, err := repo.HasOpenCharge(enrollment.MemberID, windows...)
		if err != nil {
			return fmt.Errorf("check existing charge: %w", err)
		}
		if exists {
			return nil
		}

		charge := &models.Charge{
			ID:          uuid.New(),
			MemberID:    enrollment.MemberID,
			AmountCents: enrollment.PriceCents,
			DueDate:     dueDate,
			Status:      enums.ChargeStatusPending,
			Method:      method,
		}
		if err := repo.CreateCharge(charge); err != nil {
			return fmt.Errorf("create charge: %w", err)
		}
		err = repo.RecordAudit(audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionChargeCreated,
			EntityType: audit.EntityCharge,
			EntityID:   charge.ID.String(),
			Metadata: map[string]any{
				"member_id":      enrollment.MemberID.String(),
				"plan_id":        enrollment.PlanID.String(),
				"amount_cents":   charge.AmountCents,
				"amount":         audit.AmountMajor(charge.AmountCents),
				"due_date":       dueDate.Format(time.DateOnly),
				"billing_period": period.Key(),
				"method":         method.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		created = charge
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// dispatch opens the charge at the gateway and stores the result. No database
// transaction is held during the gateway call. When entry is set it is
// recorded together with the stored result.
func (e *Engine) dispatch(ctx context.Context, scope *tenancy.Scope, gw gateway.Gateway, unavailable error, charge *models.Charge, idempotencyKey string, entry *audit.Entry, summary *ChargeSummary) error {
	if gw == nil {
		return unavailable
	}
	repo := e.repos(scope)
	member, err := repo.GetMember(charge.MemberID)
	if err != nil {
		return fmt.Errorf("load member: %w", err)
	}
	customer, err := e.customer(member)
	if err != nil {
		return fmt.Errorf("decrypt member: %w", err)
	}

	res, err := gw.CreateCharge(ctx, gateway.ChargeRequest{
		TenantID:       scope.TenantID(),
		ChargeID:       charge.ID.String(),
		AmountCents:    charge.AmountCents,
		Currency:       e.cfg.Currency,
		DueDate:        charge.DueDate,
		Method:         charge.Method,
		Customer:       customer,
		Description:    fmt.Sprintf("Membership %s", PeriodOf(charge.DueDate).Key()),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}

	var metadata dbtypes.JSONB
	if len(res.Metadata) > 0 {
		if metadata, err = dbtypes.MarshalJSONB(res.Metadata); err != nil {
			return fmt.Errorf("encode gateway metadata: %w", err)
		}
	}
	err = scope.Transaction(func(tx *tenancy.Scope) error {
		repo := e.repos(tx)
		if err := repo.AttachGatewayResult(charge.ID, gw.Name(), res.ExternalID, metadata); err != nil {
			return err
		}
		if entry != nil {
			return repo.RecordAudit(*entry)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist gateway result: %w", err)
	}

	summary.Status = enums.ChargeStatusPending
	summary.Gateway = gw.Name()
	summary.ExternalID = res.ExternalID
	summary.Metadata = res.Metadata
	return nil
}

// gatewayFor resolves the club's gateway. A club without a usable gateway is
// not fatal: unavailable explains why and charges stay PENDING.
func (e *Engine) gatewayFor(ctx context.Context, tenantID string) (gw gateway.Gateway, unavailable error, err error) {
	club, err := e.clubs.Get(ctx, tenantID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "club not registered"), nil
		}
		return nil, nil, err
	}
	name := strings.TrimSpace(club.Gateway)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "club has no payment gateway"), nil
	}
	resolved, err := e.gateways.Resolve(name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("gateway %q not configured", name)), nil
	}
	return resolved, nil, nil
}

func (e *Engine) customer(member *models.Member) (gateway.Customer, error) {
	customer := gateway.Customer{
		MemberID:          member.ID.String(),
		Name:              member.Name,
		GatewayCustomerID: deref(member.GatewayCustomerID),
		GatewayCardID:     deref(member.GatewayCardID),
	}
	var err error
	if member.Email != nil {
		if customer.Email, err = e.codec.Decrypt(*member.Email); err != nil {
			return gateway.Customer{}, err
		}
	}
	if member.Document != nil {
		if customer.Document, err = e.codec.Decrypt(*member.Document); err != nil {
			return gateway.Customer{}, err
		}
	}
	return customer, nil
}

func (e *Engine) resolvePeriod(raw string) (Period, error) {
	if strings.TrimSpace(raw) == "" {
		return CurrentPeriod(e.now()), nil
	}
	return ParsePeriod(raw)
}

func (e *Engine) noActivePlan(tenantID string) error {
	err := pkgerrors.New(pkgerrors.CodeNoActivePlan, fmt.Sprintf("club %s has no active plans", tenantID))
	if e.cfg.FailOnNoActivePlan() {
		return err.Permanent()
	}
	return err
}

func summarize(charge *models.Charge) ChargeSummary {
	return ChargeSummary{
		ID:          charge.ID,
		MemberID:    charge.MemberID,
		AmountCents: charge.AmountCents,
		DueDate:     charge.DueDate,
		Status:      charge.Status,
		Gateway:     deref(charge.Gateway),
		ExternalID:  deref(charge.ExternalID),
	}
}

func gatewayError(charge *models.Charge, err error) GatewayError {
	return GatewayError{
		ChargeID: charge.ID.String(),
		MemberID: charge.MemberID.String(),
		Reason:   reason(err),
	}
}

// chargeIdempotencyKey is stable per charge so a repeated dispatch is
// collapsed by the gateway. A charge whose payment failed gets a fresh key
// per failure.
func chargeIdempotencyKey(charge *models.Charge) string {
	if charge.Status == enums.ChargeStatusPendingRetry {
		return fmt.Sprintf("charge-%s-retry-%d", charge.ID, charge.UpdatedAt.Unix())
	}
	return "charge-" + charge.ID.String()
}

// reason renders err for result lists, keeping the underlying cause.
func reason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Unwrap() == nil || typed != err {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", typed.Message(), typed.Unwrap())
}

func actorOrSystem(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return audit.SystemActor
	}
	return actorID
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

const (
	clubA = "clubaaaaaaaaaaaaaaaa01"
	clubB = "clubbbbbbbbbbbbbbbbb02"
	// clubC is registered but has no partition.
	clubC = "clubcccccccccccccccc03"
)

type stubDirectory []models.Club

func (s stubDirectory) List(context.Context) ([]models.Club, error) {
	return s, nil
}

type processorFixture struct {
	processor *Processor
	accessor  *tenancy.Accessor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	client, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := tenancy.NewManager(client, nil)
	require.NoError(t, err)
	for _, id := range []string{clubA, clubB} {
		require.NoError(t, manager.Provision(context.Background(), id))
	}
	accessor, err := tenancy.NewAccessor(manager)
	require.NoError(t, err)

	clubs := stubDirectory{{ID: clubC}, {ID: clubA}, {ID: clubB}}
	processor, err := NewProcessor(accessor, clubs, nil, nil)
	require.NoError(t, err)
	processor.now = func() time.Time { return time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC) }
	return &processorFixture{processor: processor, accessor: accessor}
}

func (f *processorFixture) seedCharge(t *testing.T, tenantID string, status enums.ChargeStatus, externalID string) *models.Charge {
	t.Helper()
	gw := "fake"
	charge := &models.Charge{
		ID:          uuid.New(),
		MemberID:    uuid.New(),
		AmountCents: 15000,
		DueDate:     time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Status:      status,
		Method:      enums.PaymentMethodPIX,
		Gateway:     &gw,
	}
	if externalID != "" {
		charge.ExternalID = &externalID
	}
	err := f.accessor.WithTenant(context.Background(), tenantID, func(scope *tenancy.Scope) error {
		return scope.Table(tenancy.TableCharges).Create(charge).Error
	})
	require.NoError(t, err)
	return charge
}

func (f *processorFixture) charge(t *testing.T, tenantID string, id uuid.UUID) models.Charge {
	t.Helper()
	var charge models.Charge
	err := f.accessor.WithTenant(context.Background(), tenantID, func(scope *tenancy.Scope) error {
		return scope.Table(tenancy.TableCharges).Where("id = ?", id).Take(&charge).Error
	})
	require.NoError(t, err)
	return charge
}

func (f *processorFixture) payments(t *testing.T, tenantID string) []models.Payment {
	t.Helper()
	var rows []models.Payment
	err := f.accessor.WithTenant(context.Background(), tenantID, func(scope *tenancy.Scope) error {
		return scope.Table(tenancy.TablePayments).Find(&rows).Error
	})
	require.NoError(t, err)
	return rows
}

func (f *processorFixture) auditActions(t *testing.T, tenantID, entityType, entityID string) []string {
	t.Helper()
	logs, err := tenancy.Query(context.Background(), f.accessor, tenantID, func(scope *tenancy.Scope) ([]models.AuditLog, error) {
		return audit.List(scope, entityType, entityID)
	})
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	return actions
}

func paidEvent(tenantID string, charge *models.Charge, txn string) *gateway.NormalizedEvent {
	return &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: txn,
		Kind:          enums.WebhookEventPaid,
		ChargeID:      charge.ID.String(),
		TenantID:      tenantID,
		AmountCents:   charge.AmountCents,
		OccurredAt:    time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC),
		Raw:           []byte(`{"id":"evt_1"}`),
	}
}

func TestProcessPaidPostsPaymentOnce(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")
	event := paidEvent(clubA, charge, "txn_1")

	outcome, err := f.processor.Process(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, outcome)

	outcome, err = f.processor.Process(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	payments := f.payments(t, clubA)
	require.Len(t, payments, 1)
	require.Equal(t, charge.ID, payments[0].ChargeID)
	require.Equal(t, "txn_1", payments[0].GatewayTransactionID)
	require.EqualValues(t, 15000, payments[0].AmountCents)
	require.True(t, payments[0].PaidAt.Equal(event.OccurredAt))

	stored := f.charge(t, clubA, charge.ID)
	require.Equal(t, enums.ChargeStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	require.Equal(t, []string{audit.ActionChargePaid}, f.auditActions(t, clubA, audit.EntityCharge, charge.ID.String()))
	require.Equal(t, []string{audit.ActionPaymentRecorded}, f.auditActions(t, clubA, audit.EntityPayment, payments[0].ID.String()))
}

func TestProcessPaidAmountFallsBackToCharge(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")
	event := paidEvent(clubA, charge, "txn_1")
	event.AmountCents = 0
	event.OccurredAt = time.Time{}

	_, err := f.processor.Process(context.Background(), event)
	require.NoError(t, err)

	payments := f.payments(t, clubA)
	require.Len(t, payments, 1)
	require.EqualValues(t, charge.AmountCents, payments[0].AmountCents)
	require.True(t, payments[0].PaidAt.Equal(time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)))
}

func TestProcessDuplicateTransactionRejectedByConstraint(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")
	_, err := f.processor.Process(context.Background(), paidEvent(clubA, charge, "txn_1"))
	require.NoError(t, err)

	err = f.accessor.WithTenant(context.Background(), clubA, func(scope *tenancy.Scope) error {
		return scope.Table(tenancy.TablePayments).Create(&models.Payment{
			ID:                   uuid.New(),
			ChargeID:             charge.ID,
			Gateway:              "fake",
			GatewayTransactionID: "txn_1",
			AmountCents:          1,
			PaidAt:               time.Now().UTC(),
		}).Error
	})
	require.Error(t, err)
	require.True(t, isDuplicatePayment(err))
	require.Len(t, f.payments(t, clubA), 1)
}

func TestProcessResolvesTenantByProbing(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubB, enums.ChargeStatusPending, "fake_b")

	byID := paidEvent("", charge, "txn_b1")
	outcome, err := f.processor.Process(context.Background(), byID)
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, outcome)
	require.Len(t, f.payments(t, clubB), 1)
	require.Empty(t, f.payments(t, clubA))
}

func TestProcessIgnoresWrongTenantHint(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubB, enums.ChargeStatusPending, "fake_b")

	outcome, err := f.processor.Process(context.Background(), paidEvent(clubA, charge, "txn_b1"))
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, outcome)
	require.Len(t, f.payments(t, clubB), 1)
	require.Empty(t, f.payments(t, clubA))
}

func TestProcessFindsChargeByExternalID(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubB, enums.ChargeStatusPending, "sq_pay_9")

	outcome, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: "sq_pay_9",
		Kind:          enums.WebhookEventPaid,
		ExternalID:    "sq_pay_9",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePosted, outcome)
	require.Equal(t, enums.ChargeStatusPaid, f.charge(t, clubB, charge.ID).Status)
}

func TestProcessUnknownChargeIsPermanent(t *testing.T) {
	f := newProcessorFixture(t)

	_, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: "txn_x",
		Kind:          enums.WebhookEventPaid,
		ChargeID:      uuid.NewString(),
		TenantID:      clubA,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	require.False(t, pkgerrors.IsRetryable(err))
}

func TestProcessEventWithoutReferenceIsPermanent(t *testing.T) {
	f := newProcessorFixture(t)

	_, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: "txn_x",
		Kind:          enums.WebhookEventPaid,
		ChargeID:      "not-a-uuid",
		TenantID:      clubA,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	require.False(t, pkgerrors.IsRetryable(err))
}

func TestProcessFailedMovesToPendingRetry(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")

	outcome, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: "fake_1",
		Kind:          enums.WebhookEventFailed,
		ChargeID:      charge.ID.String(),
		ExternalID:    "fake_1",
		TenantID:      clubA,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeRetry, outcome)
	require.Equal(t, enums.ChargeStatusPendingRetry, f.charge(t, clubA, charge.ID).Status)
	require.Equal(t, []string{audit.ActionChargePaymentFailed}, f.auditActions(t, clubA, audit.EntityCharge, charge.ID.String()))
}

func TestProcessFailedForReplacedPaymentIsStale(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_2")

	outcome, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway:       "fake",
		TransactionID: "fake_1",
		Kind:          enums.WebhookEventFailed,
		ChargeID:      charge.ID.String(),
		ExternalID:    "fake_1",
		TenantID:      clubA,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeStale, outcome)
	require.Equal(t, enums.ChargeStatusPending, f.charge(t, clubA, charge.ID).Status)
}

func TestProcessCancelled(t *testing.T) {
	f := newProcessorFixture(t)
	open := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")
	paid := f.seedCharge(t, clubA, enums.ChargeStatusPaid, "fake_2")

	cancel := func(charge *models.Charge) Outcome {
		outcome, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
			Gateway:       "fake",
			TransactionID: *charge.ExternalID,
			Kind:          enums.WebhookEventCancelled,
			ChargeID:      charge.ID.String(),
			TenantID:      clubA,
		})
		require.NoError(t, err)
		return outcome
	}

	require.Equal(t, OutcomeCancelled, cancel(open))
	require.Equal(t, enums.ChargeStatusCancelled, f.charge(t, clubA, open.ID).Status)
	require.Equal(t, []string{audit.ActionChargeGatewayCancel}, f.auditActions(t, clubA, audit.EntityCharge, open.ID.String()))

	require.Equal(t, OutcomeStale, cancel(paid))
	require.Equal(t, enums.ChargeStatusPaid, f.charge(t, clubA, paid.ID).Status)
}

func TestProcessIgnoredEvent(t *testing.T) {
	f := newProcessorFixture(t)
	outcome, err := f.processor.Process(context.Background(), &gateway.NormalizedEvent{
		Gateway: "fake",
		Kind:    enums.WebhookEventIgnored,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	_, err := NewProcessor(nil, stubDirectory{}, nil, nil)
	require.Error(t, err)

	f := newProcessorFixture(t)
	_, err = NewProcessor(f.accessor, nil, nil, nil)
	require.Error(t, err)
}

package squaregateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	pkgsquare "github.com/angelmondragon/clubpay-backend/pkg/square"
)

const (
	notifyURL = "https://api.example.com/webhooks/square"
	sigKey    = "square-signature-key"
)

type fakePayments struct {
	created   []pkgsquare.PaymentCreateParams
	cancelled []string
	err       error
}

func (f *fakePayments) CreatePayment(_ context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error) {
	f.created = append(f.created, params)
	if f.err != nil {
		return nil, f.err
	}
	id, status, receipt := "sq_pay_1", "APPROVED", "https://squareup.com/receipt/1"
	return &sq.Payment{ID: &id, Status: &status, ReceiptURL: &receipt}, nil
}

func (f *fakePayments) CancelPayment(_ context.Context, id string) (*sq.Payment, error) {
	f.cancelled = append(f.cancelled, id)
	return &sq.Payment{ID: &id}, nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakePayments) {
	t.Helper()
	payments := &fakePayments{}
	gw, err := New(Params{Payments: payments, LocationID: "L1", NotificationURL: notifyURL, SignatureKey: sigKey})
	require.NoError(t, err)
	return gw, payments
}

func signed(body string) ([]byte, http.Header) {
	headers := http.Header{}
	headers.Set(pkgsquare.SignatureHeader, pkgsquare.Sign([]byte(body), notifyURL, sigKey))
	return []byte(body), headers
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
	_, err = New(Params{Payments: &fakePayments{}, SignatureKey: sigKey})
	require.Error(t, err)
}

func TestCreateChargeUsesCardOnFile(t *testing.T) {
	gw, payments := newTestGateway(t)
	res, err := gw.CreateCharge(context.Background(), gateway.ChargeRequest{
		ChargeID:       "charge-1",
		AmountCents:    15000,
		Method:         enums.PaymentMethodCreditCard,
		Customer:       gateway.Customer{GatewayCustomerID: "cust_1", GatewayCardID: "ccof:1"},
		IdempotencyKey: "charge-charge-1",
	})
	require.NoError(t, err)
	require.Equal(t, "sq_pay_1", res.ExternalID)
	require.Equal(t, "https://squareup.com/receipt/1", res.Metadata["receipt_url"])

	require.Len(t, payments.created, 1)
	params := payments.created[0]
	require.Equal(t, "ccof:1", params.SourceID)
	require.Equal(t, "charge-1", params.ReferenceID)
	require.Equal(t, "L1", params.LocationID)
	require.Equal(t, "BRL", params.Currency)
	require.Equal(t, "charge-charge-1", params.IdempotencyKey)
}

func TestCreateChargeRejectsPixAndMissingCard(t *testing.T) {
	gw, payments := newTestGateway(t)
	_, err := gw.CreateCharge(context.Background(), gateway.ChargeRequest{ChargeID: "c", AmountCents: 1, Method: enums.PaymentMethodPIX})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	require.False(t, pkgerrors.IsRetryable(err))

	_, err = gw.CreateCharge(context.Background(), gateway.ChargeRequest{ChargeID: "c", AmountCents: 1, Method: enums.PaymentMethodCreditCard})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	require.Empty(t, payments.created)
}

func TestCreateChargePropagatesError(t *testing.T) {
	gw, payments := newTestGateway(t)
	payments.err = pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("503"), "square create payment failed")
	_, err := gw.CreateCharge(context.Background(), gateway.ChargeRequest{
		ChargeID: "c", AmountCents: 1, Method: enums.PaymentMethodCreditCard,
		Customer: gateway.Customer{GatewayCardID: "ccof:1"},
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGateway))
}

func TestCancelCharge(t *testing.T) {
	gw, payments := newTestGateway(t)
	require.NoError(t, gw.CancelCharge(context.Background(), "sq_pay_1"))
	require.Equal(t, []string{"sq_pay_1"}, payments.cancelled)
}

func TestParseWebhookPaymentUpdated(t *testing.T) {
	gw, _ := newTestGateway(t)
	body, headers := signed(`{
		"merchant_id": "M1",
		"type": "payment.updated",
		"event_id": "evt-1",
		"created_at": "2025-06-10T12:00:00Z",
		"data": {"type": "payment", "id": "sq_pay_1", "object": {"payment": {
			"id": "sq_pay_1", "status": "COMPLETED", "reference_id": "charge-1",
			"amount_money": {"amount": 15000, "currency": "BRL"},
			"updated_at": "2025-06-10T12:00:01Z"
		}}}
	}`)

	event, err := gw.ParseWebhook(context.Background(), body, headers)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventPaid, event.Kind)
	require.Equal(t, "sq_pay_1", event.TransactionID)
	require.Equal(t, "charge-1", event.ChargeID)
	require.Equal(t, int64(15000), event.AmountCents)
	require.Empty(t, event.TenantID)
	require.Equal(t, 2025, event.OccurredAt.Year())
}

func TestParseWebhookStatuses(t *testing.T) {
	gw, _ := newTestGateway(t)
	for status, want := range map[string]enums.WebhookEventKind{
		"FAILED":   enums.WebhookEventFailed,
		"CANCELED": enums.WebhookEventCancelled,
		"APPROVED": enums.WebhookEventIgnored,
	} {
		body, headers := signed(`{"type":"payment.updated","event_id":"e","data":{"object":{"payment":{"id":"p","status":"` + status + `"}}}}`)
		event, err := gw.ParseWebhook(context.Background(), body, headers)
		require.NoError(t, err)
		require.Equal(t, want, event.Kind, status)
	}

	body, headers := signed(`{"type":"refund.updated","event_id":"e2","data":{}}`)
	event, err := gw.ParseWebhook(context.Background(), body, headers)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, event.Kind)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	gw, _ := newTestGateway(t)
	body, headers := signed(`{"type":"payment.updated"}`)

	_, err := gw.ParseWebhook(context.Background(), []byte(`{"type":"payment.updated" }`), headers)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	_, err = gw.ParseWebhook(context.Background(), body, http.Header{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestFromClientCreatesCompletedPayment(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment":{"id":"sq_pay_1","status":"COMPLETED"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := pkgsquare.NewClient(context.Background(), config.SquareConfig{
		AccessToken:     "EAAA-token",
		WebhookSecret:   sigKey,
		NotificationURL: notifyURL,
		LocationID:      "L1",
		BaseURL:         srv.URL,
	}, logger.Nop())
	require.NoError(t, err)

	gw, err := FromClient(client, "brl")
	require.NoError(t, err)

	res, err := gw.CreateCharge(context.Background(), gateway.ChargeRequest{
		ChargeID:       "charge-1",
		AmountCents:    15000,
		Method:         enums.PaymentMethodCreditCard,
		Customer:       gateway.Customer{GatewayCustomerID: "cust_1", GatewayCardID: "ccof:1"},
		IdempotencyKey: "charge-charge-1",
	})
	require.NoError(t, err)
	require.Equal(t, "sq_pay_1", res.ExternalID)
	require.Equal(t, true, body["autocomplete"])
	require.Equal(t, "L1", body["location_id"])
	require.Equal(t, "ccof:1", body["source_id"])
	require.Equal(t, "charge-charge-1", body["idempotency_key"])

	_, err = FromClient(nil, "BRL")
	require.Error(t, err)
}

package squaregateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	pkgsquare "github.com/angelmondragon/clubpay-backend/pkg/square"
)

// Name is the registry key and webhook path segment.
const Name = "square"

type paymentsAPI interface {
	CreatePayment(ctx context.Context, params pkgsquare.PaymentCreateParams) (*sq.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// Params configures the Square adapter.
type Params struct {
	Payments        paymentsAPI
	LocationID      string
	NotificationURL string
	SignatureKey    string
	Currency        string
}

// Gateway charges members' cards on file through the Square Payments API.
// Square has no PIX rail.
type Gateway struct {
	payments        paymentsAPI
	locationID      string
	notificationURL string
	signatureKey    string
	currency        string
}

func New(params Params) (*Gateway, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("square payments api required")
	}
	if strings.TrimSpace(params.SignatureKey) == "" {
		return nil, fmt.Errorf("square signature key required")
	}
	if strings.TrimSpace(params.NotificationURL) == "" {
		return nil, fmt.Errorf("square notification url required")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "BRL"
	}
	return &Gateway{
		payments:        params.Payments,
		locationID:      params.LocationID,
		notificationURL: params.NotificationURL,
		signatureKey:    params.SignatureKey,
		currency:        currency,
	}, nil
}

// FromClient wires the adapter to an initialized Square client.
func FromClient(client *pkgsquare.Client, currency string) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return New(Params{
		Payments:        client,
		LocationID:      client.LocationID(),
		NotificationURL: client.NotificationURL(),
		SignatureKey:    client.SigningSecret(),
		Currency:        currency,
	})
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Method() enums.PaymentMethod { return enums.PaymentMethodCreditCard }

// CreateCharge charges the member's card on file. Square completes the
// payment right away, so a later CancelCharge is refused by Square and the
// charge is left as it is.
func (g *Gateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if req.Method != enums.PaymentMethodCreditCard {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("square gateway does not support %s", req.Method)).Permanent()
	}
	if req.Customer.GatewayCardID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member has no card on file").Permanent()
	}
	currency := g.currency
	if req.Currency != "" {
		currency = req.Currency
	}

	payment, err := g.payments.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       currency,
		LocationID:     g.locationID,
		CustomerID:     req.Customer.GatewayCustomerID,
		SourceID:       req.Customer.GatewayCardID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Description,
		ReferenceID:    req.ChargeID,
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"status": stringValue(payment.GetStatus())}
	if url := stringValue(payment.GetReceiptURL()); url != "" {
		meta["receipt_url"] = url
	}
	return &gateway.ChargeResult{
		ExternalID: stringValue(payment.GetID()),
		Status:     stringValue(payment.GetStatus()),
		Metadata:   meta,
	}, nil
}

func (g *Gateway) CancelCharge(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "square payment id required")
	}
	_, err := g.payments.CancelPayment(ctx, externalID)
	return err
}

type webhookEnvelope struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *webhookPayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

type webhookPayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	AmountMoney *struct {
		Amount int64 `json:"amount"`
	} `json:"amount_money"`
	UpdatedAt string `json:"updated_at"`
}

// ParseWebhook verifies x-square-hmacsha256-signature over the registered
// notification URL plus the raw body and maps payment events.
func (g *Gateway) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*gateway.NormalizedEvent, error) {
	sig := headers.Get(pkgsquare.SignatureHeader)
	if sig == "" {
		return nil, gateway.ErrSignature(Name, errors.New("signature header missing"))
	}
	if !pkgsquare.VerifySignature(body, sig, g.notificationURL, g.signatureKey) {
		return nil, gateway.ErrSignature(Name, errors.New("signature mismatch"))
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}

	event := &gateway.NormalizedEvent{
		Gateway:       Name,
		EventID:       envelope.EventID,
		TransactionID: envelope.EventID,
		Kind:          enums.WebhookEventIgnored,
		OccurredAt:    parseTime(envelope.CreatedAt),
		Raw:           body,
	}
	payment := envelope.Data.Object.Payment
	if !strings.HasPrefix(envelope.Type, "payment.") || payment == nil {
		return event, nil
	}

	event.Kind = kindFor(payment.Status)
	event.TransactionID = payment.ID
	event.ExternalID = payment.ID
	event.ChargeID = payment.ReferenceID
	if payment.AmountMoney != nil {
		event.AmountCents = payment.AmountMoney.Amount
	}
	if ts := parseTime(payment.UpdatedAt); !ts.IsZero() {
		event.OccurredAt = ts
	}
	return event, nil
}

func kindFor(status string) enums.WebhookEventKind {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return enums.WebhookEventPaid
	case "FAILED":
		return enums.WebhookEventFailed
	case "CANCELED":
		return enums.WebhookEventCancelled
	default:
		return enums.WebhookEventIgnored
	}
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

package stripegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/clubpay-backend/pkg/stripe"
)

// Name is the registry key and webhook path segment.
const Name = "stripe"

const signatureHeader = "Stripe-Signature"

// Gateway collects PIX payments through Stripe payment intents.
type Gateway struct {
	intents       pkgstripe.PaymentIntentAPI
	signingSecret string
	currency      string
}

func New(intents pkgstripe.PaymentIntentAPI, signingSecret, currency string) (*Gateway, error) {
	if intents == nil {
		return nil, fmt.Errorf("stripe payment intent api required")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, fmt.Errorf("stripe signing secret required")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = string(stripe.CurrencyBRL)
	}
	return &Gateway{intents: intents, signingSecret: signingSecret, currency: currency}, nil
}

// FromClient wires the adapter to an initialized Stripe client.
func FromClient(client *pkgstripe.Client, currency string) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return New(client.PaymentIntents(), client.SigningSecret(), currency)
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Method() enums.PaymentMethod { return enums.PaymentMethodPIX }

// CreateCharge opens a confirmed PIX payment intent that expires at the due
// date and returns its QR payload as metadata.
func (g *Gateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if req.Method != enums.PaymentMethodPIX {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("stripe gateway does not support %s", req.Method)).Permanent()
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive").Permanent()
	}

	currency := g.currency
	if req.Currency != "" {
		currency = strings.ToLower(req.Currency)
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type:           stripe.String("pix"),
			BillingDetails: billingDetails(req.Customer),
		},
		Confirm: stripe.Bool(true),
	}
	if !req.DueDate.IsZero() && req.DueDate.After(time.Now()) {
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Pix: &stripe.PaymentIntentPaymentMethodOptionsPixParams{
				ExpiresAt: stripe.Int64(endOfDay(req.DueDate).Unix()),
			},
		}
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Customer.GatewayCustomerID != "" {
		params.Customer = stripe.String(req.Customer.GatewayCustomerID)
	}
	params.AddMetadata(gateway.MetadataChargeID, req.ChargeID)
	params.AddMetadata(gateway.MetadataTenantID, req.TenantID)
	params.AddMetadata(gateway.MetadataMemberID, req.Customer.MemberID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	return &gateway.ChargeResult{
		ExternalID: pi.ID,
		Status:     string(pi.Status),
		Metadata:   pixMetadata(pi),
	}, nil
}

func (g *Gateway) CancelCharge(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	_, err := g.intents.Cancel(ctx, externalID, &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	})
	return err
}

// ParseWebhook verifies the Stripe-Signature header and maps payment intent
// events. Other event types are returned as ignored.
func (g *Gateway) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*gateway.NormalizedEvent, error) {
	sig := headers.Get(signatureHeader)
	if sig == "" {
		return nil, gateway.ErrSignature(Name, fmt.Errorf("%s header missing", signatureHeader))
	}
	event, err := webhook.ConstructEventWithOptions(body, sig, g.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, gateway.ErrSignature(Name, err)
	}

	normalized := &gateway.NormalizedEvent{
		Gateway:    Name,
		EventID:    event.ID,
		Kind:       kindFor(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Raw:        body,
	}
	if normalized.Kind == enums.WebhookEventIgnored || event.Data == nil {
		normalized.Kind = enums.WebhookEventIgnored
		normalized.TransactionID = event.ID
		return normalized, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	normalized.TransactionID = pi.ID
	normalized.ExternalID = pi.ID
	normalized.ChargeID = pi.Metadata[gateway.MetadataChargeID]
	normalized.TenantID = pi.Metadata[gateway.MetadataTenantID]
	normalized.AmountCents = pi.AmountReceived
	if normalized.AmountCents == 0 {
		normalized.AmountCents = pi.Amount
	}
	return normalized, nil
}

func kindFor(eventType stripe.EventType) enums.WebhookEventKind {
	switch eventType {
	case stripe.EventTypePaymentIntentSucceeded:
		return enums.WebhookEventPaid
	case stripe.EventTypePaymentIntentPaymentFailed:
		return enums.WebhookEventFailed
	case stripe.EventTypePaymentIntentCanceled:
		return enums.WebhookEventCancelled
	default:
		return enums.WebhookEventIgnored
	}
}

func billingDetails(c gateway.Customer) *stripe.PaymentIntentPaymentMethodDataBillingDetailsParams {
	details := &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{}
	if c.Name != "" {
		details.Name = stripe.String(c.Name)
	}
	if c.Email != "" {
		details.Email = stripe.String(c.Email)
	}
	return details
}

func pixMetadata(pi *stripe.PaymentIntent) map[string]any {
	meta := map[string]any{"status": string(pi.Status)}
	if pi.NextAction == nil || pi.NextAction.PixDisplayQRCode == nil {
		return meta
	}
	qr := pi.NextAction.PixDisplayQRCode
	meta["pix_qr_code"] = qr.Data
	meta["pix_expires_at"] = qr.ExpiresAt
	meta["hosted_instructions_url"] = qr.HostedInstructionsURL
	meta["qr_image_png"] = qr.ImageURLPNG
	return meta
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

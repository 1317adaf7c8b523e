// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
const SignatureHeader = "X-Fake-Signature"

// Payload is the fake gateway's callback body.
type Payload struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	ChargeID      string `json:"charge_id"`
	ExternalID    string `json:"external_id"`
	TenantID      string `json:"tenant_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// Gateway records calls and can be told to fail specific charges.
type Gateway struct {
	name   string
	secret string

	mu        sync.Mutex
	requests  []gateway.ChargeRequest
	cancelled []string
	failures  map[string]error
	failAll   error
}

func New(name, secret string) *Gateway {
	return &Gateway{name: name, secret: secret, failures: map[string]error{}}
}

func (g *Gateway) Name() string { return g.name }

// FailCharge makes CreateCharge fail for one charge id.
func (g *Gateway) FailCharge(chargeID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[chargeID] = err
}

// FailAll makes every CreateCharge fail until called with nil.
func (g *Gateway) FailAll(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = err
}

func (g *Gateway) Requests() []gateway.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), g.requests...)
}

func (g *Gateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

func (g *Gateway) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.failAll != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, g.failAll, "fake gateway create charge")
	}
	if err, ok := g.failures[req.ChargeID]; ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "fake gateway create charge")
	}
	return &gateway.ChargeResult{
		ExternalID: "fake_" + req.ChargeID,
		Status:     "pending",
		Metadata: map[string]any{
			"qr_code":  "00020126fake" + req.ChargeID,
			"due_date": req.DueDate.Format(time.DateOnly),
		},
	}, nil
}

func (g *Gateway) CancelCharge(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, externalID)
	return nil
}

func (g *Gateway) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*gateway.NormalizedEvent, error) {
	sig := headers.Get(SignatureHeader)
	if sig == "" {
		return nil, gateway.ErrSignature(g.name, errors.New("signature header missing"))
	}
	if !hmac.Equal([]byte(sig), []byte(g.Sign(body))) {
		return nil, gateway.ErrSignature(g.name, errors.New("signature mismatch"))
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode fake event")
	}
	return &gateway.NormalizedEvent{
		Gateway:       g.name,
		EventID:       payload.ID,
		TransactionID: payload.TransactionID,
		Kind:          enums.WebhookEventKind(payload.Kind),
		ChargeID:      payload.ChargeID,
		ExternalID:    payload.ExternalID,
		TenantID:      payload.TenantID,
		AmountCents:   payload.AmountCents,
		OccurredAt:    time.Now().UTC(),
		Raw:           body,
	}, nil
}

// Sign returns the signature header value for body.
func (g *Gateway) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Request builds a signed callback body and headers.
func (g *Gateway) Request(payload Payload) ([]byte, http.Header) {
	body, _ := json.Marshal(payload)
	headers := http.Header{}
	headers.Set(SignatureHeader, g.Sign(body))
	return body, headers
}

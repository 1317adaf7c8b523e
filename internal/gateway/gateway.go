package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

// Metadata keys every adapter attaches to outbound charges so callbacks can
// be routed back to the owning club and charge.
const (
	MetadataChargeID = "charge_id"
	MetadataTenantID = "tenant_id"
	MetadataMemberID = "member_id"
)

// Customer is the payer as the gateway needs to see it. Values are plaintext
// and must not be logged.
type Customer struct {
	MemberID          string
	Name              string
	Email             string
	Document          string
	GatewayCustomerID string
	GatewayCardID     string
}

// ChargeRequest asks a gateway to open a payment for one charge.
type ChargeRequest struct {
	TenantID       string
	ChargeID       string
	AmountCents    int64
	Currency       string
	DueDate        time.Time
	Method         enums.PaymentMethod
	Customer       Customer
	Description    string
	IdempotencyKey string
}

// ChargeResult is what the gateway returned; Metadata holds payment
// instructions such as a PIX QR payload.
type ChargeResult struct {
	ExternalID string
	Status     string
	Metadata   map[string]any
}

// NormalizedEvent is a verified gateway callback in gateway-neutral form.
type NormalizedEvent struct {
	Gateway       string                 `json:"gateway" validate:"required"`
	EventID       string                 `json:"event_id"`
	TransactionID string                 `json:"transaction_id" validate:"required"`
	Kind          enums.WebhookEventKind `json:"kind" validate:"required"`
	ChargeID      string                 `json:"charge_id"`
	ExternalID    string                 `json:"external_id"`
	TenantID      string                 `json:"tenant_id"`
	AmountCents   int64                  `json:"amount_cents"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Raw           json.RawMessage        `json:"raw,omitempty"`
}

// Gateway is the contract every payment provider adapter satisfies.
type Gateway interface {
	Name() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CancelCharge(ctx context.Context, externalID string) error
	// ParseWebhook verifies the signature over the untouched body and
	// normalizes the event. Authentication failures carry CodeUnauthorized.
	ParseWebhook(ctx context.Context, body []byte, headers http.Header) (*NormalizedEvent, error)
}

// MethodProvider is implemented by adapters that collect through one rail only.
type MethodProvider interface {
	Method() enums.PaymentMethod
}

// MethodFor returns the rail gw collects through, or fallback when the adapter
// does not say.
func MethodFor(gw Gateway, fallback enums.PaymentMethod) enums.PaymentMethod {
	if mp, ok := gw.(MethodProvider); ok {
		return mp.Method()
	}
	return fallback
}

// ErrSignature builds the error adapters return when a callback fails verification.
func ErrSignature(gatewayName string, cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, cause, fmt.Sprintf("%s webhook signature invalid", gatewayName))
}

// Registry maps gateway names to adapters. It is built once at startup and
// passed to the components that need it.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: map[string]Gateway{}}
	for _, gw := range gateways {
		if err := r.Register(gw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter under its lower-cased name.
func (r *Registry) Register(gw Gateway) error {
	if gw == nil {
		return fmt.Errorf("gateway required")
	}
	name := normalizeName(gw.Name())
	if name == "" {
		return fmt.Errorf("gateway name required")
	}
	if _, exists := r.gateways[name]; exists {
		return fmt.Errorf("gateway %q already registered", name)
	}
	r.gateways[name] = gw
	return nil
}

func (r *Registry) Get(name string) (Gateway, bool) {
	if r == nil {
		return nil, false
	}
	gw, ok := r.gateways[normalizeName(name)]
	return gw, ok
}

// Resolve is Get with a typed not-found error.
func (r *Registry) Resolve(name string) (Gateway, error) {
	gw, ok := r.Get(name)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("gateway %q not registered", name))
	}
	return gw, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

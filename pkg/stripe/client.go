package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/angelmondragon/clubpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes each mode accepts.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test", "rk_test"},
	liveEnv: {"sk_live", "rk_live"},
}

// PaymentIntentAPI is the subset of payment intent calls the PIX gateway makes.
type PaymentIntentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// Client owns one API key and backend. Nothing is written to the package
// globals of stripe-go, so two clients never share credentials.
type Client struct {
	environment   string
	signingSecret string
	intents       *paymentintent.Client
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.TrimSpace(strings.ToLower(cfg.Environment()))
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if !hasAnyPrefix(apiKey, prefixes) {
		return nil, fmt.Errorf("stripe %s mode requires a %s key", env, strings.Join(prefixes, "/"))
	}

	backendCfg := &stripe.BackendConfig{}
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		intents:       &paymentintent.Client{B: backend, Key: apiKey},
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret is the webhook endpoint secret used by webhook.ConstructEvent.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// PaymentIntents returns the intent operations bound to this client's key.
func (c *Client) PaymentIntents() PaymentIntentAPI {
	return intentService{api: c.intents}
}

type intentService struct {
	api *paymentintent.Client
}

func (s intentService) Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = ctx
	pi, err := s.api.New(params)
	if err != nil {
		return nil, MapError(err, "create payment intent")
	}
	return pi, nil
}

func (s intentService) Cancel(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentCancelParams{}
	}
	params.Context = ctx
	pi, err := s.api.Cancel(id, params)
	if err != nil {
		return nil, MapError(err, "cancel payment intent")
	}
	return pi, nil
}

// MapError converts Stripe API errors into domain errors. Client-side
// rejections are permanent; everything else may be retried.
func MapError(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("stripe %s failed", op)
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg)
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msg)
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, msg)
	case stripeErr.HTTPStatusCode == http.StatusBadRequest,
		stripeErr.Type == stripe.ErrorTypeInvalidRequest,
		stripeErr.Type == stripe.ErrorTypeCard:
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg).Permanent()
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg)
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

type namedGateway struct{ name string }

func (g namedGateway) Name() string { return g.name }
func (namedGateway) CreateCharge(context.Context, ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{}, nil
}
func (namedGateway) CancelCharge(context.Context, string) error { return nil }
func (namedGateway) ParseWebhook(context.Context, []byte, http.Header) (*NormalizedEvent, error) {
	return &NormalizedEvent{}, nil
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(namedGateway{name: "Stripe"}, namedGateway{name: "square"})
	require.NoError(t, err)

	gw, ok := reg.Get("STRIPE")
	require.True(t, ok)
	require.Equal(t, "Stripe", gw.Name())
	require.Equal(t, []string{"square", "stripe"}, reg.Names())

	_, err = reg.Resolve("paypal")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRegistryRejectsDuplicatesAndBlankNames(t *testing.T) {
	_, err := NewRegistry(namedGateway{name: "stripe"}, namedGateway{name: " Stripe "})
	require.Error(t, err)

	_, err = NewRegistry(namedGateway{name: " "})
	require.Error(t, err)

	_, err = NewRegistry(nil)
	require.Error(t, err)
}

func TestErrSignatureIsUnauthorized(t *testing.T) {
	err := ErrSignature("stripe", nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
	require.False(t, pkgerrors.IsRetryable(err))
}

type cardOnlyGateway struct{ namedGateway }

func (cardOnlyGateway) Method() enums.PaymentMethod { return enums.PaymentMethodCreditCard }

func TestMethodFor(t *testing.T) {
	require.Equal(t, enums.PaymentMethodPIX, MethodFor(namedGateway{name: "x"}, enums.PaymentMethodPIX))
	require.Equal(t, enums.PaymentMethodCreditCard, MethodFor(cardOnlyGateway{namedGateway{name: "y"}}, enums.PaymentMethodPIX))
}

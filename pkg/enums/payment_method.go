package enums

import "fmt"

// PaymentMethod is the rail a charge is collected through.
type PaymentMethod string

const (
	PaymentMethodPIX        PaymentMethod = "PIX"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodBoleto     PaymentMethod = "BOLETO"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodPIX,
	PaymentMethodCreditCard,
	PaymentMethodBoleto,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

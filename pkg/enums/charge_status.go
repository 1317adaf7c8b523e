package enums

import "fmt"

// ChargeStatus tracks a member charge through collection.
type ChargeStatus string

const (
	ChargeStatusPending      ChargeStatus = "PENDING"
	ChargeStatusPaid         ChargeStatus = "PAID"
	ChargeStatusOverdue      ChargeStatus = "OVERDUE"
	ChargeStatusCancelled    ChargeStatus = "CANCELLED"
	ChargeStatusPendingRetry ChargeStatus = "PENDING_RETRY"
)

var validChargeStatuses = []ChargeStatus{
	ChargeStatusPending,
	ChargeStatusPaid,
	ChargeStatusOverdue,
	ChargeStatusCancelled,
	ChargeStatusPendingRetry,
}

// String implements fmt.Stringer.
func (c ChargeStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c ChargeStatus) IsValid() bool {
	for _, candidate := range validChargeStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further gateway transition is expected.
func (c ChargeStatus) IsTerminal() bool {
	return c == ChargeStatusPaid || c == ChargeStatusCancelled
}

// ParseChargeStatus converts raw input into a ChargeStatus.
func ParseChargeStatus(value string) (ChargeStatus, error) {
	for _, candidate := range validChargeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge status %q", value)
}

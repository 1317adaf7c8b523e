package enums

import "fmt"

// WebhookEventKind is the normalized outcome a gateway callback reports.
type WebhookEventKind string

const (
	WebhookEventPaid      WebhookEventKind = "paid"
	WebhookEventFailed    WebhookEventKind = "failed"
	WebhookEventCancelled WebhookEventKind = "cancelled"
	WebhookEventIgnored   WebhookEventKind = "ignored"
)

var validWebhookEventKinds = []WebhookEventKind{
	WebhookEventPaid,
	WebhookEventFailed,
	WebhookEventCancelled,
	WebhookEventIgnored,
}

// String implements fmt.Stringer.
func (k WebhookEventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known WebhookEventKind.
func (k WebhookEventKind) IsValid() bool {
	for _, candidate := range validWebhookEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseWebhookEventKind converts raw input into a WebhookEventKind.
func ParseWebhookEventKind(value string) (WebhookEventKind, error) {
	for _, candidate := range validWebhookEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event kind %q", value)
}

package enums

import "strings"

// SubscriptionStatus mirrors the billing provider's subscription state.
// Dodo reports more states than we act on; reconciliation only needs to
// tell cancelled apart from everything active-like.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusOnHold    SubscriptionStatus = "on_hold"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusFailed    SubscriptionStatus = "failed"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsCancelled reports whether the provider considers the subscription cancelled.
func (s SubscriptionStatus) IsCancelled() bool {
	return NormalizeSubscriptionStatus(string(s)) == SubscriptionStatusCancelled
}

// NormalizeSubscriptionStatus lowercases, trims, and folds the US spelling
// so "Canceled", " CANCELLED " and "cancelled" compare equal.
func NormalizeSubscriptionStatus(raw string) SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "canceled" {
		normalized = string(SubscriptionStatusCancelled)
	}
	return SubscriptionStatus(normalized)
}

package dodo

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/davidserrano-io/plansync-backend/pkg/enums"
)

// Customer is the customer block embedded in Dodo subscription payloads.
// REST responses label the identifier customer_id, webhook deliveries plain id.
type Customer struct {
	CustomerID string `json:"customer_id"`
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
}

// Subscription is the canonical wire shape for a Dodo Payments subscription.
// Webhook payloads and REST responses both reduce to this struct.
type Subscription struct {
	SubscriptionID          string            `json:"subscription_id"`
	ID                      string            `json:"id"`
	Status                  string            `json:"status"`
	CancelAtNextBillingDate bool              `json:"cancel_at_next_billing_date"`
	NextBillingDate         *time.Time        `json:"next_billing_date,omitempty"`
	PreviousBillingDate     *time.Time        `json:"previous_billing_date,omitempty"`
	TrialPeriodDays         int               `json:"trial_period_days,omitempty"`
	ProductID               string            `json:"product_id,omitempty"`
	Quantity                int               `json:"quantity,omitempty"`
	ClientReferenceID       string            `json:"client_reference_id,omitempty"`
	Customer                *Customer         `json:"customer,omitempty"`
	Email                   string            `json:"email,omitempty"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               *time.Time        `json:"created_at,omitempty"`
}

// EffectiveID returns the trimmed subscription identifier, accepting both the
// subscription_id and id spellings.
func (s *Subscription) EffectiveID() string {
	if s == nil {
		return ""
	}
	if id := strings.TrimSpace(s.SubscriptionID); id != "" {
		return id
	}
	return strings.TrimSpace(s.ID)
}

// CustomerEmail returns the customer email, trimmed, or "". Falls back to the
// top-level email some payload variants carry instead of a customer block.
func (s *Subscription) CustomerEmail() string {
	if s == nil {
		return ""
	}
	if s.Customer != nil {
		if email := strings.TrimSpace(s.Customer.Email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(s.Email)
}

// CustomerID returns the provider customer id, trimmed, or "". Accepts both
// the customer_id and id spellings inside the customer block.
func (s *Subscription) CustomerID() string {
	if s == nil || s.Customer == nil {
		return ""
	}
	if id := strings.TrimSpace(s.Customer.CustomerID); id != "" {
		return id
	}
	return strings.TrimSpace(s.Customer.ID)
}

// UserIDFromMetadata returns the user id planted in subscription metadata at
// checkout time. Both key spellings seen in the wild are accepted.
func (s *Subscription) UserIDFromMetadata() string {
	if s == nil || len(s.Metadata) == 0 {
		return ""
	}
	for _, key := range []string{"userId", "user_id"} {
		if v := strings.TrimSpace(s.Metadata[key]); v != "" {
			return v
		}
	}
	return ""
}

// IsCancelled reports whether the subscription is in a cancelled state,
// tolerating both spellings of the status value.
func (s *Subscription) IsCancelled() bool {
	if s == nil {
		return false
	}
	return enums.NormalizeSubscriptionStatus(s.Status).IsCancelled()
}

// WebhookEvent is the raw envelope Dodo posts to the webhook endpoint. The
// subscription fields arrive either directly under data or nested one level
// down at data.subscription depending on the event type.
type WebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Normalize flattens the event payload into a single Subscription regardless
// of which nesting variant the provider used. Returns nil when the event
// carries no data block.
func (e *WebhookEvent) Normalize() (*Subscription, error) {
	if e == nil || len(e.Data) == 0 {
		return nil, nil
	}

	var flat Subscription
	if err := json.Unmarshal(e.Data, &flat); err != nil {
		return nil, err
	}

	var nested struct {
		Subscription *Subscription `json:"subscription"`
	}
	if err := json.Unmarshal(e.Data, &nested); err != nil {
		return nil, err
	}

	if nested.Subscription == nil || nested.Subscription.EffectiveID() == "" {
		return &flat, nil
	}

	sub := nested.Subscription
	// Top-level fields win only where the nested block left them empty.
	if sub.Customer == nil {
		sub.Customer = flat.Customer
	}
	if sub.Email == "" {
		sub.Email = flat.Email
	}
	if len(sub.Metadata) == 0 {
		sub.Metadata = flat.Metadata
	}
	if sub.Status == "" {
		sub.Status = flat.Status
	}
	if sub.NextBillingDate == nil {
		sub.NextBillingDate = flat.NextBillingDate
	}
	return sub, nil
}

// EventType groups the webhook event names this service reacts to.
type EventType string

const (
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
)

// UpdateSubscriptionParams is the PATCH body for subscription updates.
type UpdateSubscriptionParams struct {
	Status                  *string `json:"status,omitempty"`
	CancelAtNextBillingDate *bool   `json:"cancel_at_next_billing_date,omitempty"`
}

// ListSubscriptionsParams filters the subscription listing.
type ListSubscriptionsParams struct {
	CustomerID string
	Status     string
	PageSize   int
	PageNumber int
}

type listSubscriptionsResponse struct {
	Items []*Subscription `json:"items"`
}

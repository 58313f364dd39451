package billing

import (
	"strings"

	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
)

// CancellationFields builds the profile mutation for a cancelled
// subscription. The subscription link is kept so late provider events for
// the same subscription still find the profile.
func CancellationFields() map[string]any {
	return map[string]any{
		"plan":             enums.PlanFree,
		"auto_renew":       false,
		"trial_expires_at": nil,
	}
}

// EntitlementFields builds the profile mutation for an active subscription
// record. Field maps apply last-write-wins, so replaying the same record is
// idempotent. Records without a subscription id, as some payment events are,
// still grant the plan but leave any existing linkage untouched.
func EntitlementFields(sub *dodo.Subscription) map[string]any {
	fields := map[string]any{
		"plan":             enums.PlanPremium,
		"auto_renew":       true,
		"trial_expires_at": nil,
	}
	if id := sub.EffectiveID(); id != "" {
		fields["subscription_id"] = id
	}

	if sub.CancelAtNextBillingDate {
		fields["auto_renew"] = false
	}
	if customerID := sub.CustomerID(); customerID != "" {
		fields["customer_id"] = customerID
	}
	if sub.NextBillingDate != nil {
		fields["renews_at"] = *sub.NextBillingDate
	}

	// A record can arrive through an entitlement event while the provider
	// already marks it cancelled; the record state wins.
	if sub.IsCancelled() {
		fields["plan"] = enums.PlanFree
		fields["auto_renew"] = false
	}

	return fields
}

// LinkFields builds the unconditional premium link applied by the admin
// repair path.
func LinkFields(subscriptionID, customerID string) map[string]any {
	fields := map[string]any{
		"plan":             enums.PlanPremium,
		"auto_renew":       true,
		"subscription_id":  strings.TrimSpace(subscriptionID),
		"trial_expires_at": nil,
	}
	if trimmed := strings.TrimSpace(customerID); trimmed != "" {
		fields["customer_id"] = trimmed
	}
	return fields
}

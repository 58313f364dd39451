package dodowebhook

import (
	"strings"

	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
)

// EventClass buckets incoming event types by the mutation they trigger.
type EventClass int

const (
	ClassIgnored EventClass = iota
	ClassEntitlement
	ClassCancellation
)

var entitlementEvents = map[dodo.EventType]struct{}{
	dodo.EventPaymentSucceeded:    {},
	dodo.EventSubscriptionCreated: {},
	dodo.EventSubscriptionUpdated: {},
	dodo.EventSubscriptionRenewed: {},
}

// Classify maps an event type onto its mutation class. Unknown types are
// ignored rather than rejected so new provider events cannot break the
// endpoint.
func Classify(eventType string) EventClass {
	normalized := dodo.EventType(strings.ToLower(strings.TrimSpace(eventType)))
	if normalized == dodo.EventSubscriptionCancelled {
		return ClassCancellation
	}
	if _, ok := entitlementEvents[normalized]; ok {
		return ClassEntitlement
	}
	return ClassIgnored
}

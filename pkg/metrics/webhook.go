package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics counts webhook deliveries by event type and outcome.
type WebhookMetrics struct {
	events *prometheus.CounterVec
}

// Outcome labels for processed webhook events.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// NewWebhookMetrics registers the webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processed webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(events)
	return &WebhookMetrics{events: events}
}

// IncEvent increments the counter for the given event type and outcome.
func (w *WebhookMetrics) IncEvent(eventType, outcome string) {
	if w == nil || w.events == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	w.events.WithLabelValues(eventType, outcome).Inc()
}

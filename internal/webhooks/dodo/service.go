package dodowebhook

import (
	"context"

	"github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
	"github.com/davidserrano-io/plansync-backend/pkg/metrics"
)

// Status values reported back to the webhook controller.
const (
	StatusApplied   = "applied"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
	StatusUnmatched = "unmatched"
)

// Result describes what a delivery did. Ignored deliveries and
// cancellations for subscriptions no profile links acknowledge with 200 so
// the provider stops retrying; unmatched entitlements surface as not-found
// errors instead, since a lost upgrade needs operator follow-up.
type Result struct {
	Status  string
	Outcome *billing.ReconcileOutcome
}

// ServiceParams groups the webhook processor dependencies. Guard and
// Metrics are optional.
type ServiceParams struct {
	Engine  billing.Service
	Guard   *IdempotencyGuard
	Metrics *metrics.WebhookMetrics
	Logger  *logger.Logger
}

// Service turns classified provider events into reconciliation calls.
type Service struct {
	engine  billing.Service
	guard   *IdempotencyGuard
	metrics *metrics.WebhookMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		engine:  params.Engine,
		guard:   params.Guard,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// HandleEvent processes one delivery. eventID comes from the webhook-id
// header and may be empty; deduplication is skipped without it since the
// mutations themselves are idempotent.
func (s *Service) HandleEvent(ctx context.Context, event *dodo.WebhookEvent, eventID string) (*Result, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event payload required")
	}

	ctx = s.logg.WithEventType(ctx, event.Type)

	class := Classify(event.Type)
	if class == ClassIgnored {
		s.logg.Info(ctx, "webhook event ignored")
		s.metrics.IncEvent(event.Type, metrics.OutcomeIgnored)
		return &Result{Status: StatusIgnored}, nil
	}

	if s.guard != nil && eventID != "" {
		seen, err := s.guard.CheckAndMark(ctx, eventID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking idempotency")
		}
		if seen {
			s.logg.Info(ctx, "webhook event already processed")
			s.metrics.IncEvent(event.Type, metrics.OutcomeDuplicate)
			return &Result{Status: StatusDuplicate}, nil
		}
	}

	sub, err := event.Normalize()
	if err != nil {
		s.release(ctx, eventID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event data")
	}

	result, err := s.dispatch(ctx, class, event.Type, sub)
	if err != nil {
		// Clear the mark so the provider's retry is not swallowed.
		s.release(ctx, eventID)
		s.metrics.IncEvent(event.Type, metrics.OutcomeFailed)
		return nil, err
	}
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, class EventClass, eventType string, sub *dodo.Subscription) (*Result, error) {
	switch class {
	case ClassCancellation:
		if sub == nil || sub.EffectiveID() == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation event missing subscription id")
		}
		outcome, err := s.engine.ApplyCancellation(ctx, sub)
		if err != nil {
			return nil, err
		}
		return s.resultFromOutcome(eventType, outcome), nil

	case ClassEntitlement:
		if sub == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "entitlement event carries no subscription data")
		}
		outcome, err := s.engine.ApplyEntitlement(ctx, sub)
		if err != nil {
			return nil, err
		}
		return s.resultFromOutcome(eventType, outcome), nil

	default:
		return &Result{Status: StatusIgnored}, nil
	}
}

func (s *Service) resultFromOutcome(eventType string, outcome *billing.ReconcileOutcome) *Result {
	if outcome == nil || !outcome.Matched {
		s.metrics.IncEvent(eventType, metrics.OutcomeIgnored)
		return &Result{Status: StatusUnmatched, Outcome: outcome}
	}
	s.metrics.IncEvent(eventType, metrics.OutcomeApplied)
	return &Result{Status: StatusApplied, Outcome: outcome}
}

func (s *Service) release(ctx context.Context, eventID string) {
	if s.guard == nil || eventID == "" {
		return
	}
	if err := s.guard.Delete(ctx, eventID); err != nil {
		s.logg.Warn(ctx, "failed to release idempotency mark")
	}
}

package dodowebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/internal/identity"
	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

type engineCall struct {
	op  string
	sub *dodo.Subscription
}

type fakeEngine struct {
	calls   []engineCall
	outcome *billing.ReconcileOutcome
	err     error
}

func (f *fakeEngine) ApplyEntitlement(ctx context.Context, sub *dodo.Subscription) (*billing.ReconcileOutcome, error) {
	f.calls = append(f.calls, engineCall{op: "entitlement", sub: sub})
	return f.outcome, f.err
}

func (f *fakeEngine) ApplyCancellation(ctx context.Context, sub *dodo.Subscription) (*billing.ReconcileOutcome, error) {
	f.calls = append(f.calls, engineCall{op: "cancellation", sub: sub})
	return f.outcome, f.err
}

func (f *fakeEngine) Sync(ctx context.Context, userID uuid.UUID) (*billing.SyncResult, error) {
	return nil, nil
}

func (f *fakeEngine) ToggleAutoRenew(ctx context.Context, userID uuid.UUID, subscriptionID string, autoRenew bool) (*models.Profile, error) {
	return nil, nil
}

func (f *fakeEngine) Cancel(ctx context.Context, userID uuid.UUID, subscriptionID string) error {
	return nil
}

func (f *fakeEngine) Link(ctx context.Context, userID uuid.UUID, subscriptionID, customerID string) error {
	return nil
}

func (f *fakeEngine) RefreshProfile(ctx context.Context, profile *models.Profile) error {
	return nil
}

type fakeIdempotencyStore struct {
	data map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{data: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return f.data[key], nil
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := f.data[key]; exists {
		return false, nil
	}
	f.data[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func newTestService(t *testing.T, engine *fakeEngine, store *fakeIdempotencyStore) *Service {
	t.Helper()
	var guard *IdempotencyGuard
	if store != nil {
		var err error
		guard, err = NewIdempotencyGuard(store, time.Hour, "webhooks")
		if err != nil {
			t.Fatalf("NewIdempotencyGuard() error = %v", err)
		}
	}
	svc, err := NewService(ServiceParams{
		Engine: engine,
		Guard:  guard,
		Logger: logger.New(logger.Options{Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestClassify(t *testing.T) {
	cases := []struct {
		eventType string
		want      EventClass
	}{
		{"payment.succeeded", ClassEntitlement},
		{"subscription.created", ClassEntitlement},
		{"subscription.updated", ClassEntitlement},
		{"subscription.renewed", ClassEntitlement},
		{"subscription.cancelled", ClassCancellation},
		{"  Subscription.Cancelled ", ClassCancellation},
		{"payment.failed", ClassIgnored},
		{"refund.created", ClassIgnored},
		{"", ClassIgnored},
	}
	for _, tc := range cases {
		if got := Classify(tc.eventType); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestHandleEventIgnoredTypeNoWrites(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine, nil)

	result, err := svc.HandleEvent(context.Background(), &dodo.WebhookEvent{
		Type: "payment.failed",
		Data: json.RawMessage(`{"subscription_id": "sub_1"}`),
	}, "evt_1")
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Status != StatusIgnored {
		t.Errorf("Status = %q, want ignored", result.Status)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("engine calls = %+v, want none", engine.calls)
	}
}

func TestHandleEventCancellationMissingSubscriptionID(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine, nil)

	_, err := svc.HandleEvent(context.Background(), &dodo.WebhookEvent{
		Type: "subscription.cancelled",
		Data: json.RawMessage(`{"status": "cancelled"}`),
	}, "")
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(engine.calls) != 0 {
		t.Fatal("engine must not run without a subscription id")
	}
}

func TestHandleEventEntitlementWithoutSubscriptionIDStillReconciles(t *testing.T) {
	engine := &fakeEngine{outcome: &billing.ReconcileOutcome{
		Matched: true,
		UserID:  uuid.New(),
		Method:  identity.MatchEmail,
		Plan:    enums.PlanPremium,
	}}
	svc := newTestService(t, engine, nil)

	// Some payment events carry only the customer; the upgrade must still
	// flow through the engine rather than being dropped.
	result, err := svc.HandleEvent(context.Background(), &dodo.WebhookEvent{
		Type: "payment.succeeded",
		Data: json.RawMessage(`{"payment_id": "pay_1", "customer": {"id": "cus_1", "email": "a@example.com"}}`),
	}, "")
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Status != StatusApplied {
		t.Errorf("Status = %q, want applied", result.Status)
	}
	if len(engine.calls) != 1 || engine.calls[0].op != "entitlement" {
		t.Fatalf("calls = %+v", engine.calls)
	}
	if engine.calls[0].sub.CustomerEmail() != "a@example.com" {
		t.Errorf("sub = %+v, want customer email forwarded", engine.calls[0].sub)
	}
}

func TestHandleEventAppliesEntitlement(t *testing.T) {
	engine := &fakeEngine{outcome: &billing.ReconcileOutcome{
		Matched: true,
		UserID:  uuid.New(),
		Method:  identity.MatchMetadata,
		Plan:    enums.PlanPremium,
	}}
	svc := newTestService(t, engine, nil)

	result, err := svc.HandleEvent(context.Background(), &dodo.WebhookEvent{
		Type: "subscription.created",
		Data: json.RawMessage(`{"subscription_id": "sub_1", "status": "active"}`),
	}, "")
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Status != StatusApplied {
		t.Errorf("Status = %q, want applied", result.Status)
	}
	if len(engine.calls) != 1 || engine.calls[0].op != "entitlement" {
		t.Fatalf("calls = %+v", engine.calls)
	}
	if engine.calls[0].sub.EffectiveID() != "sub_1" {
		t.Errorf("sub = %+v", engine.calls[0].sub)
	}
}

func TestHandleEventUnlinkedCancellationStillAcknowledged(t *testing.T) {
	engine := &fakeEngine{outcome: &billing.ReconcileOutcome{}}
	svc := newTestService(t, engine, nil)

	result, err := svc.HandleEvent(context.Background(), &dodo.WebhookEvent{
		Type: "subscription.cancelled",
		Data: json.RawMessage(`{"subscription_id": "sub_never_linked"}`),
	}, "")
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Status != StatusUnmatched {
		t.Errorf("Status = %q, want unmatched", result.Status)
	}
	if len(engine.calls) != 1 || engine.calls[0].op != "cancellation" {
		t.Fatalf("calls = %+v", engine.calls)
	}
}

func TestHandleEventDuplicateDelivery(t *testing.T) {
	engine := &fakeEngine{outcome: &billing.ReconcileOutcome{Matched: true, Plan: enums.PlanPremium}}
	store := newFakeIdempotencyStore()
	svc := newTestService(t, engine, store)

	event := &dodo.WebhookEvent{
		Type: "subscription.created",
		Data: json.RawMessage(`{"subscription_id": "sub_1", "status": "active"}`),
	}

	first, err := svc.HandleEvent(context.Background(), event, "evt_1")
	if err != nil {
		t.Fatalf("first HandleEvent() error = %v", err)
	}
	if first.Status != StatusApplied {
		t.Errorf("first Status = %q", first.Status)
	}

	second, err := svc.HandleEvent(context.Background(), event, "evt_1")
	if err != nil {
		t.Fatalf("second HandleEvent() error = %v", err)
	}
	if second.Status != StatusDuplicate {
		t.Errorf("second Status = %q, want duplicate", second.Status)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("engine ran %d times, want once", len(engine.calls))
	}
}

func TestHandleEventFailureReleasesIdempotencyMark(t *testing.T) {
	engine := &fakeEngine{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	store := newFakeIdempotencyStore()
	svc := newTestService(t, engine, store)

	event := &dodo.WebhookEvent{
		Type: "subscription.created",
		Data: json.RawMessage(`{"subscription_id": "sub_1", "status": "active"}`),
	}

	if _, err := svc.HandleEvent(context.Background(), event, "evt_1"); err == nil {
		t.Fatal("expected failure")
	}

	engine.err = nil
	engine.outcome = &billing.ReconcileOutcome{Matched: true, Plan: enums.PlanPremium}
	result, err := svc.HandleEvent(context.Background(), event, "evt_1")
	if err != nil {
		t.Fatalf("retry HandleEvent() error = %v", err)
	}
	if result.Status != StatusApplied {
		t.Errorf("retry Status = %q, want applied after mark release", result.Status)
	}
}

func TestHandleEventMissingEventIDSkipsGuard(t *testing.T) {
	engine := &fakeEngine{outcome: &billing.ReconcileOutcome{Matched: true, Plan: enums.PlanPremium}}
	store := newFakeIdempotencyStore()
	svc := newTestService(t, engine, store)

	event := &dodo.WebhookEvent{
		Type: "subscription.created",
		Data: json.RawMessage(`{"subscription_id": "sub_1", "status": "active"}`),
	}

	for i := 0; i < 2; i++ {
		result, err := svc.HandleEvent(context.Background(), event, "")
		if err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
		if result.Status != StatusApplied {
			t.Errorf("Status = %q", result.Status)
		}
	}
	if len(engine.calls) != 2 {
		t.Fatalf("engine ran %d times, want 2 without guard", len(engine.calls))
	}
}

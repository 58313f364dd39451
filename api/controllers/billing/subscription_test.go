package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	billingsvc "github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/internal/identity"
	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

type stubBillingService struct {
	syncResult    *billingsvc.SyncResult
	toggleProfile *models.Profile
	err           error

	syncedUser     uuid.UUID
	toggledUser    uuid.UUID
	toggledSub     string
	toggledRenew   bool
	cancelledSub   string
	linkedUser     uuid.UUID
	linkedSub      string
	linkedCustomer string
}

func (s *stubBillingService) ApplyEntitlement(context.Context, *dodo.Subscription) (*billingsvc.ReconcileOutcome, error) {
	return nil, nil
}

func (s *stubBillingService) ApplyCancellation(context.Context, *dodo.Subscription) (*billingsvc.ReconcileOutcome, error) {
	return nil, nil
}

func (s *stubBillingService) Sync(_ context.Context, userID uuid.UUID) (*billingsvc.SyncResult, error) {
	s.syncedUser = userID
	return s.syncResult, s.err
}

func (s *stubBillingService) ToggleAutoRenew(_ context.Context, userID uuid.UUID, subscriptionID string, autoRenew bool) (*models.Profile, error) {
	s.toggledUser = userID
	s.toggledSub = subscriptionID
	s.toggledRenew = autoRenew
	return s.toggleProfile, s.err
}

func (s *stubBillingService) Cancel(_ context.Context, _ uuid.UUID, subscriptionID string) error {
	s.cancelledSub = subscriptionID
	return s.err
}

func (s *stubBillingService) Link(_ context.Context, userID uuid.UUID, subscriptionID, customerID string) error {
	s.linkedUser = userID
	s.linkedSub = subscriptionID
	s.linkedCustomer = customerID
	return s.err
}

func (s *stubBillingService) RefreshProfile(context.Context, *models.Profile) error {
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSyncReturnsResult(t *testing.T) {
	userID := uuid.New()
	service := &stubBillingService{
		syncResult: &billingsvc.SyncResult{
			Matched:        true,
			Method:         identity.MatchMetadata,
			SubscriptionID: "sub_123",
			Plan:           enums.PlanPremium,
			AutoRenew:      true,
		},
	}
	handler := Sync(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/sync", syncRequest{UserID: userID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.syncedUser != userID {
		t.Fatalf("expected sync for %s, got %s", userID, service.syncedUser)
	}

	var envelope struct {
		Data syncResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Matched || envelope.Data.SubscriptionID != "sub_123" || envelope.Data.Plan != "premium" {
		t.Fatalf("unexpected payload: %+v", envelope.Data)
	}
}

func TestSyncRejectsMissingUserID(t *testing.T) {
	service := &stubBillingService{}
	handler := Sync(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/sync", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.syncedUser != uuid.Nil {
		t.Fatal("service should not run on invalid input")
	}
}

func TestSyncMapsNotFound(t *testing.T) {
	service := &stubBillingService{err: pkgerrors.New(pkgerrors.CodeNotFound, "user not found")}
	handler := Sync(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/sync", syncRequest{UserID: uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAutoRenewForwardsFlag(t *testing.T) {
	userID := uuid.New()
	off := false
	service := &stubBillingService{
		toggleProfile: &models.Profile{UserID: userID, Plan: enums.PlanPremium, AutoRenew: false},
	}
	handler := AutoRenew(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/auto-renew", autoRenewRequest{
		UserID:         userID.String(),
		SubscriptionID: "sub_123",
		AutoRenew:      &off,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.toggledSub != "sub_123" || service.toggledRenew {
		t.Fatalf("unexpected toggle call: sub=%s renew=%v", service.toggledSub, service.toggledRenew)
	}

	var envelope struct {
		Data profileResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Plan != "premium" || envelope.Data.AutoRenew {
		t.Fatalf("unexpected profile payload: %+v", envelope.Data)
	}
}

func TestAutoRenewRequiresFlag(t *testing.T) {
	service := &stubBillingService{}
	handler := AutoRenew(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/auto-renew", map[string]string{
		"user_id":         uuid.NewString(),
		"subscription_id": "sub_123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing auto_renew, got %d", rec.Code)
	}
}

func TestCancelMapsForbidden(t *testing.T) {
	service := &stubBillingService{err: pkgerrors.New(pkgerrors.CodeForbidden, "subscription does not belong to user")}
	handler := Cancel(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/cancel", cancelRequest{
		UserID:         uuid.NewString(),
		SubscriptionID: "sub_other",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCancelSuccess(t *testing.T) {
	service := &stubBillingService{}
	handler := Cancel(service, testLogger())

	rec := postJSON(t, handler, "/api/v1/billing/cancel", cancelRequest{
		UserID:         uuid.NewString(),
		SubscriptionID: "sub_123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.cancelledSub != "sub_123" {
		t.Fatalf("expected cancel for sub_123, got %q", service.cancelledSub)
	}
}

func TestAdminLinkForwardsIdentifiers(t *testing.T) {
	userID := uuid.New()
	service := &stubBillingService{}
	handler := AdminLink(service, testLogger())

	rec := postJSON(t, handler, "/api/admin/v1/billing/link", linkRequest{
		UserID:         userID.String(),
		SubscriptionID: "sub_123",
		CustomerID:     "cus_9",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.linkedUser != userID || service.linkedSub != "sub_123" || service.linkedCustomer != "cus_9" {
		t.Fatalf("unexpected link call: %+v", service)
	}
}

func TestHandlersGuardNilService(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"sync":       Sync(nil, testLogger()),
		"auto-renew": AutoRenew(nil, testLogger()),
		"cancel":     Cancel(nil, testLogger()),
		"link":       AdminLink(nil, testLogger()),
	} {
		rec := postJSON(t, handler, "/api/v1/billing/"+name, map[string]string{})
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500 without service, got %d", name, rec.Code)
		}
	}
}

package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/api/responses"
	"github.com/davidserrano-io/plansync-backend/api/validators"
	billingsvc "github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

type syncRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type syncResponse struct {
	Matched        bool   `json:"matched"`
	Method         string `json:"method,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	Plan           string `json:"plan"`
	AutoRenew      bool   `json:"auto_renew"`
}

type autoRenewRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	AutoRenew      *bool  `json:"auto_renew" validate:"required"`
}

type cancelRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

type profileResponse struct {
	UserID         uuid.UUID  `json:"user_id"`
	Plan           string     `json:"plan"`
	AutoRenew      bool       `json:"auto_renew"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	RenewsAt       *time.Time `json:"renews_at,omitempty"`
	TrialExpiresAt *time.Time `json:"trial_expires_at,omitempty"`
}

// Sync pulls the user's provider state and repairs the local profile.
func Sync(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload syncRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		result, err := svc.Sync(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, syncResponse{
			Matched:        result.Matched,
			Method:         string(result.Method),
			SubscriptionID: result.SubscriptionID,
			CustomerID:     result.CustomerID,
			Plan:           string(result.Plan),
			AutoRenew:      result.AutoRenew,
		})
	}
}

// AutoRenew toggles the renewal flag provider-first.
func AutoRenew(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload autoRenewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		profile, err := svc.ToggleAutoRenew(r.Context(), userID, payload.SubscriptionID, *payload.AutoRenew)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newProfileResponse(profile))
	}
}

// Cancel terminates the subscription at the provider and downgrades the profile.
func Cancel(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		if err := svc.Cancel(r.Context(), userID, payload.SubscriptionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

func newProfileResponse(profile *models.Profile) *profileResponse {
	if profile == nil {
		return nil
	}
	return &profileResponse{
		UserID:         profile.UserID,
		Plan:           string(profile.Plan),
		AutoRenew:      profile.AutoRenew,
		SubscriptionID: profile.SubscriptionID,
		RenewsAt:       profile.RenewsAt,
		TrialExpiresAt: profile.TrialExpiresAt,
	}
}

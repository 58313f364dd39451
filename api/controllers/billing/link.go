package billing

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/api/responses"
	"github.com/davidserrano-io/plansync-backend/api/validators"
	billingsvc "github.com/davidserrano-io/plansync-backend/internal/billing"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

type linkRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	CustomerID     string `json:"customer_id,omitempty"`
}

// AdminLink attaches a provider subscription to a user. The endpoint is a
// support tool: it does not verify that the subscription belongs to the
// target user, so it must never be exposed without operator-level access.
func AdminLink(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload linkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		if err := svc.Link(r.Context(), userID, payload.SubscriptionID, payload.CustomerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

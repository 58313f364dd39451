package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/davidserrano-io/plansync-backend/api/responses"
	dodowebhook "github.com/davidserrano-io/plansync-backend/internal/webhooks/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

const webhookIDHeader = "webhook-id"

const maxWebhookBody = 1 << 20

// DodoWebhookService processes one provider delivery.
type DodoWebhookService interface {
	HandleEvent(ctx context.Context, event *dodo.WebhookEvent, eventID string) (*dodowebhook.Result, error)
}

type webhookAck struct {
	Status string `json:"status"`
}

// DodoWebhook handles Dodo subscription lifecycle events. Deliveries are
// accepted unverified; the provider does not sign requests on our plan.
func DodoWebhook(svc DodoWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var event dodo.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event payload"))
			return
		}

		eventID := r.Header.Get(webhookIDHeader)

		result, err := svc.HandleEvent(ctx, &event, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookAck{Status: result.Status})
	}
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidserrano-io/plansync-backend/api/controllers"
	billingcontrollers "github.com/davidserrano-io/plansync-backend/api/controllers/billing"
	webhookcontrollers "github.com/davidserrano-io/plansync-backend/api/controllers/webhooks"
	"github.com/davidserrano-io/plansync-backend/api/middleware"
	billingsvc "github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/pkg/config"
	"github.com/davidserrano-io/plansync-backend/pkg/db"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
	"github.com/davidserrano-io/plansync-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	billingService billingsvc.Service,
	webhookService webhookcontrollers.DodoWebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/dodo", webhookcontrollers.DodoWebhook(webhookService, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Post("/sync", billingcontrollers.Sync(billingService, logg))
		r.Post("/auto-renew", billingcontrollers.AutoRenew(billingService, logg))
		r.Post("/cancel", billingcontrollers.Cancel(billingService, logg))
	})

	r.Route("/api/admin/v1/billing", func(r chi.Router) {
		r.Post("/link", billingcontrollers.AdminLink(billingService, logg))
	})

	return r
}

package controllers

import (
	"net/http"

	"github.com/davidserrano-io/plansync-backend/api/responses"
	"github.com/davidserrano-io/plansync-backend/pkg/config"
	"github.com/davidserrano-io/plansync-backend/pkg/db"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
	"github.com/davidserrano-io/plansync-backend/pkg/redis"
)

const envHeader = "X-PlanSync-Env"

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when both backing stores answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set(envHeader, cfg.App.Env)

		if dbP == nil || redisP == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "health dependencies unavailable"))
			return
		}

		if err := dbP.Ping(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unreachable"))
			return
		}
		if err := redisP.Ping(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unreachable"))
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

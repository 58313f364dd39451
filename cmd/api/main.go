package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidserrano-io/plansync-backend/api/routes"
	"github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/internal/identity"
	"github.com/davidserrano-io/plansync-backend/internal/profiles"
	"github.com/davidserrano-io/plansync-backend/internal/users"
	dodowebhook "github.com/davidserrano-io/plansync-backend/internal/webhooks/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/config"
	"github.com/davidserrano-io/plansync-backend/pkg/db"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
	"github.com/davidserrano-io/plansync-backend/pkg/metrics"
	"github.com/davidserrano-io/plansync-backend/pkg/migrate"
	"github.com/davidserrano-io/plansync-backend/pkg/redis"
)

const webhookIdempotencyScope = "webhooks"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	dodoClient, err := dodo.NewClient(context.Background(), cfg.Dodo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create dodo client", err)
		os.Exit(1)
	}

	usersRepo := users.NewRepository(dbClient.DB())
	profilesRepo := profiles.NewRepository(dbClient.DB())

	resolver, err := identity.NewResolver(usersRepo, profilesRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create identity resolver", err)
		os.Exit(1)
	}

	engine, err := billing.NewService(billing.ServiceParams{
		UsersRepo:    usersRepo,
		ProfilesRepo: profilesRepo,
		Resolver:     resolver,
		Provider:     dodoClient,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing engine", err)
		os.Exit(1)
	}

	guard, err := dodowebhook.NewIdempotencyGuard(redisClient, cfg.Dodo.IdempotencyTTL, webhookIdempotencyScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	webhookService, err := dodowebhook.NewService(dodowebhook.ServiceParams{
		Engine:  engine,
		Guard:   guard,
		Metrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"dodo_env": cfg.Dodo.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, engine, webhookService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

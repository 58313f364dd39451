package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/internal/cron"
	"github.com/davidserrano-io/plansync-backend/internal/identity"
	"github.com/davidserrano-io/plansync-backend/internal/profiles"
	"github.com/davidserrano-io/plansync-backend/internal/users"
	"github.com/davidserrano-io/plansync-backend/pkg/config"
	"github.com/davidserrano-io/plansync-backend/pkg/db"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
	"github.com/davidserrano-io/plansync-backend/pkg/metrics"
	"github.com/davidserrano-io/plansync-backend/pkg/migrate"
	"github.com/davidserrano-io/plansync-backend/pkg/redis"
)

const reconcileLockName = "entitlement-reconcile"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	reconcileJob, err := cron.NewEntitlementReconcileJob(cron.EntitlementReconcileJobParams{
		Logger:       logg,
		ProfilesRepo: profilesRepo,
		Engine:       engine,
		Limit:        cfg.Cron.ReconcileLimit,
		MinAge:       cfg.Cron.ReconcileMinAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(reconcileLockName), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	go serveMetrics(ctx, logg, cfg.Cron.MetricsPort)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}

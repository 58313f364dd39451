package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/davidserrano-io/plansync-backend/internal/billing"
	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

const defaultReconcileLimit = 250

// premiumLister is the profiles repository slice the job reads.
type premiumLister interface {
	ListPremium(ctx context.Context, limit int, minAge time.Duration) ([]models.Profile, error)
}

// EntitlementReconcileJobParams configures the entitlement drift repair job.
// MinAge excludes profiles updated within the window from a pass; zero
// disables the filter.
type EntitlementReconcileJobParams struct {
	Logger       *logger.Logger
	ProfilesRepo premiumLister
	Engine       billing.Service
	Limit        int
	MinAge       time.Duration
}

// NewEntitlementReconcileJob builds the job that re-checks premium profiles
// against the provider. Webhooks can be missed; this loop catches the drift.
func NewEntitlementReconcileJob(params EntitlementReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.ProfilesRepo == nil {
		return nil, fmt.Errorf("profiles repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("billing engine required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &entitlementReconcileJob{
		logg:         params.Logger,
		profilesRepo: params.ProfilesRepo,
		engine:       params.Engine,
		limit:        limit,
		minAge:       params.MinAge,
	}, nil
}

type entitlementReconcileJob struct {
	logg         *logger.Logger
	profilesRepo premiumLister
	engine       billing.Service
	limit        int
	minAge       time.Duration
}

func (j *entitlementReconcileJob) Name() string { return "entitlement-reconcile" }

func (j *entitlementReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.profilesRepo.ListPremium(ctx, j.limit, j.minAge)
	if err != nil {
		return fmt.Errorf("list premium profiles: %w", err)
	}

	var errs error
	refreshed := 0
	for i := range snapshot {
		profile := snapshot[i]
		if err := j.engine.RefreshProfile(ctx, &profile); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh profile %s: %w", profile.UserID, err))
			continue
		}
		refreshed++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"refreshed":  refreshed,
	})
	j.logg.Info(reportCtx, "entitlement reconcile loop complete")
	return errs
}

package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/internal/identity"
	"github.com/davidserrano-io/plansync-backend/internal/profiles"
	"github.com/davidserrano-io/plansync-backend/internal/users"
	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
	"github.com/davidserrano-io/plansync-backend/pkg/logger"
)

const syncListPageSize = 100

// ProviderClient is the slice of the Dodo client the engine calls.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*dodo.Subscription, error)
	ListSubscriptions(ctx context.Context, params dodo.ListSubscriptionsParams) ([]*dodo.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params dodo.UpdateSubscriptionParams) (*dodo.Subscription, error)
}

// OwnerResolver matches subscriptions and users in both directions.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, sub *dodo.Subscription) (*identity.Owner, error)
	FindSubscriptionForUser(ctx context.Context, user *models.User, subs []*dodo.Subscription) (*dodo.Subscription, identity.MatchMethod, error)
}

// Service is the reconciliation engine: every profile mutation driven by
// provider state goes through it.
type Service interface {
	ApplyEntitlement(ctx context.Context, sub *dodo.Subscription) (*ReconcileOutcome, error)
	ApplyCancellation(ctx context.Context, sub *dodo.Subscription) (*ReconcileOutcome, error)
	Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error)
	ToggleAutoRenew(ctx context.Context, userID uuid.UUID, subscriptionID string, autoRenew bool) (*models.Profile, error)
	Cancel(ctx context.Context, userID uuid.UUID, subscriptionID string) error
	Link(ctx context.Context, userID uuid.UUID, subscriptionID, customerID string) error
	RefreshProfile(ctx context.Context, profile *models.Profile) error
}

// ReconcileOutcome reports what a webhook-driven mutation did.
type ReconcileOutcome struct {
	Matched bool
	UserID  uuid.UUID
	Method  identity.MatchMethod
	Plan    enums.Plan
}

// SyncResult reports the outcome of a pull-based repair.
type SyncResult struct {
	Matched        bool
	Method         identity.MatchMethod
	SubscriptionID string
	CustomerID     string
	Plan           enums.Plan
	AutoRenew      bool
}

// ServiceParams groups dependencies for the reconciliation engine.
type ServiceParams struct {
	UsersRepo    users.Repository
	ProfilesRepo profiles.Repository
	Resolver     OwnerResolver
	Provider     ProviderClient
	Logger       *logger.Logger
}

type service struct {
	usersRepo    users.Repository
	profilesRepo profiles.Repository
	resolver     OwnerResolver
	provider     ProviderClient
	logg         *logger.Logger
}

// NewService builds the reconciliation engine with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.UsersRepo == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.ProfilesRepo == nil {
		return nil, fmt.Errorf("profiles repo required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("resolver required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		usersRepo:    params.UsersRepo,
		profilesRepo: params.ProfilesRepo,
		resolver:     params.Resolver,
		provider:     params.Provider,
		logg:         params.Logger,
	}, nil
}

// ApplyEntitlement upgrades the owning profile based on an active
// subscription record. Records without a subscription id still resolve
// through metadata and email and upgrade the plan without linking.
func (s *service) ApplyEntitlement(ctx context.Context, sub *dodo.Subscription) (*ReconcileOutcome, error) {
	if sub == nil {
		return &ReconcileOutcome{}, nil
	}

	owner, err := s.resolver.ResolveOwner(ctx, sub)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		ctx = s.logg.WithSubscriptionID(ctx, sub.EffectiveID())
		s.logg.Warn(ctx, "entitlement record did not resolve to a user")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no user matches the subscription").
			WithDetails(map[string]any{
				"subscription_id": sub.EffectiveID(),
				"customer_email":  sub.CustomerEmail(),
				"has_metadata":    sub.UserIDFromMetadata() != "",
			})
	}

	fields := EntitlementFields(sub)
	if err := s.profilesRepo.UpdateByUserID(ctx, owner.UserID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating profile entitlement")
	}

	plan := fields["plan"].(enums.Plan)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         owner.UserID.String(),
		"subscription_id": sub.EffectiveID(),
		"match_method":    string(owner.Method),
		"plan":            plan.String(),
	})
	s.logg.Info(ctx, "entitlement applied")

	return &ReconcileOutcome{Matched: true, UserID: owner.UserID, Method: owner.Method, Plan: plan}, nil
}

// ApplyCancellation downgrades the linked profile. Resolution is by the
// stored subscription linkage only; a cancelled record's metadata and email
// may be stale, so the wider resolver chain is not consulted. The
// subscription link is retained so repeat deliveries stay idempotent.
func (s *service) ApplyCancellation(ctx context.Context, sub *dodo.Subscription) (*ReconcileOutcome, error) {
	if sub == nil || sub.EffectiveID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation requires a subscription id")
	}

	subID := sub.EffectiveID()
	profile, err := s.profilesRepo.FindBySubscriptionID(ctx, subID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up profile by subscription")
	}
	if profile == nil {
		ctx = s.logg.WithSubscriptionID(ctx, subID)
		s.logg.Warn(ctx, "cancellation for a subscription no profile links")
		return &ReconcileOutcome{}, nil
	}

	if err := s.profilesRepo.UpdateBySubscriptionID(ctx, subID, CancellationFields()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating profile cancellation")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         profile.UserID.String(),
		"subscription_id": subID,
		"match_method":    string(identity.MatchLinkage),
	})
	s.logg.Info(ctx, "cancellation applied")

	return &ReconcileOutcome{Matched: true, UserID: profile.UserID, Method: identity.MatchLinkage, Plan: enums.PlanFree}, nil
}

// Sync pulls provider state for one user and repairs the profile. A linked
// profile is refreshed against its subscription; an unlinked one searches
// the provider listing for a claimable subscription.
func (s *service) Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	user, err := s.usersRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found").
			WithDetails(map[string]any{"user_id": userID.String()})
	}

	profile, err := s.ensureProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if profile.SubscriptionID != nil && *profile.SubscriptionID != "" {
		return s.syncLinked(ctx, profile)
	}
	return s.syncUnlinked(ctx, user, profile)
}

func (s *service) syncLinked(ctx context.Context, profile *models.Profile) (*SyncResult, error) {
	subID := *profile.SubscriptionID
	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeNotFound {
			// The provider no longer knows the subscription; downgrade.
			if updateErr := s.profilesRepo.UpdateByUserID(ctx, profile.UserID, CancellationFields()); updateErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "downgrading orphaned profile")
			}
			return &SyncResult{
				Matched:        true,
				Method:         identity.MatchLinkage,
				SubscriptionID: subID,
				Plan:           enums.PlanFree,
			}, nil
		}
		return nil, err
	}

	plan, autoRenew, err := s.applyRecord(ctx, profile.UserID, sub)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		Matched:        true,
		Method:         identity.MatchLinkage,
		SubscriptionID: sub.EffectiveID(),
		CustomerID:     sub.CustomerID(),
		Plan:           plan,
		AutoRenew:      autoRenew,
	}, nil
}

func (s *service) syncUnlinked(ctx context.Context, user *models.User, profile *models.Profile) (*SyncResult, error) {
	params := dodo.ListSubscriptionsParams{PageSize: syncListPageSize}
	if profile.CustomerID != nil {
		params.CustomerID = *profile.CustomerID
	}

	subs, err := s.provider.ListSubscriptions(ctx, params)
	if err != nil {
		return nil, err
	}

	sub, method, err := s.resolver.FindSubscriptionForUser(ctx, user, subs)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no provider subscription matches the user").
			WithDetails(map[string]any{
				"user_id":    user.ID.String(),
				"candidates": len(subs),
				"hint":       "no metadata, client reference, email, or unclaimed subscription matched",
			})
	}

	plan, autoRenew, err := s.applyRecord(ctx, user.ID, sub)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         user.ID.String(),
		"subscription_id": sub.EffectiveID(),
		"match_method":    string(method),
	})
	s.logg.Info(ctx, "subscription linked during sync")

	return &SyncResult{
		Matched:        true,
		Method:         method,
		SubscriptionID: sub.EffectiveID(),
		CustomerID:     sub.CustomerID(),
		Plan:           plan,
		AutoRenew:      autoRenew,
	}, nil
}

// ToggleAutoRenew flips auto-renewal at the provider first and mirrors the
// flag locally only after the provider accepted the change.
func (s *service) ToggleAutoRenew(ctx context.Context, userID uuid.UUID, subscriptionID string, autoRenew bool) (*models.Profile, error) {
	profile, err := s.authorizeSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}

	cancelAtNext := !autoRenew
	if _, err := s.provider.UpdateSubscription(ctx, subscriptionID, dodo.UpdateSubscriptionParams{
		CancelAtNextBillingDate: &cancelAtNext,
	}); err != nil {
		return nil, err
	}

	if err := s.profilesRepo.UpdateByUserID(ctx, userID, map[string]any{"auto_renew": autoRenew}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating auto renew flag")
	}

	profile.AutoRenew = autoRenew
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         userID.String(),
		"subscription_id": subscriptionID,
		"auto_renew":      autoRenew,
	})
	s.logg.Info(ctx, "auto renew toggled")
	return profile, nil
}

// Cancel cancels the subscription at the provider, then downgrades the
// profile. A provider failure leaves the profile untouched.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID, subscriptionID string) error {
	if _, err := s.authorizeSubscription(ctx, userID, subscriptionID); err != nil {
		return err
	}

	status := string(enums.SubscriptionStatusCancelled)
	if _, err := s.provider.UpdateSubscription(ctx, subscriptionID, dodo.UpdateSubscriptionParams{
		Status: &status,
	}); err != nil {
		return err
	}

	if err := s.profilesRepo.UpdateBySubscriptionID(ctx, subscriptionID, CancellationFields()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "downgrading cancelled profile")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         userID.String(),
		"subscription_id": subscriptionID,
	})
	s.logg.Info(ctx, "subscription cancelled")
	return nil
}

// Link force-links a subscription to a user and grants premium. This is the
// operator repair path: no ownership check is performed.
func (s *service) Link(ctx context.Context, userID uuid.UUID, subscriptionID, customerID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	user, err := s.usersRepo.FindByID(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up user")
	}
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found").
			WithDetails(map[string]any{"user_id": userID.String()})
	}

	if _, err := s.ensureProfile(ctx, userID); err != nil {
		return err
	}

	if err := s.profilesRepo.UpdateByUserID(ctx, userID, LinkFields(subscriptionID, customerID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "linking subscription")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         userID.String(),
		"subscription_id": subscriptionID,
	})
	s.logg.Info(ctx, "subscription force-linked")
	return nil
}

// RefreshProfile re-reads the provider record behind a linked profile and
// reapplies it. Used by the scheduled reconcile job.
func (s *service) RefreshProfile(ctx context.Context, profile *models.Profile) error {
	if profile == nil || profile.SubscriptionID == nil || *profile.SubscriptionID == "" {
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, *profile.SubscriptionID)
	if err != nil {
		if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeNotFound {
			if updateErr := s.profilesRepo.UpdateByUserID(ctx, profile.UserID, CancellationFields()); updateErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "downgrading orphaned profile")
			}
			return nil
		}
		return err
	}

	_, _, err = s.applyRecord(ctx, profile.UserID, sub)
	return err
}

// applyRecord applies the mutation matching the record state and reports
// the resulting plan and auto-renew flag.
func (s *service) applyRecord(ctx context.Context, userID uuid.UUID, sub *dodo.Subscription) (enums.Plan, bool, error) {
	var fields map[string]any
	if sub.IsCancelled() {
		fields = CancellationFields()
		// Keep the link when the record reached us through a sync match.
		fields["subscription_id"] = sub.EffectiveID()
	} else {
		fields = EntitlementFields(sub)
	}

	if err := s.profilesRepo.UpdateByUserID(ctx, userID, fields); err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconciling profile")
	}

	plan := fields["plan"].(enums.Plan)
	autoRenew := fields["auto_renew"].(bool)
	return plan, autoRenew, nil
}

func (s *service) authorizeSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*models.Profile, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	profile, err := s.profilesRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up profile")
	}
	if profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found").
			WithDetails(map[string]any{"user_id": userID.String()})
	}
	if profile.SubscriptionID == nil || *profile.SubscriptionID != subscriptionID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "subscription does not belong to user")
	}
	return profile, nil
}

func (s *service) ensureProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profilesRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up profile")
	}
	if profile != nil {
		return profile, nil
	}

	profile = &models.Profile{UserID: userID, Plan: enums.PlanFree}
	if err := s.profilesRepo.Create(ctx, profile); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating default profile")
	}
	return profile, nil
}

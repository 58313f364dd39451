package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/dodo"
	pkgerrors "github.com/davidserrano-io/plansync-backend/pkg/errors"
)

// MatchMethod names the strategy that linked a subscription to a user.
type MatchMethod string

const (
	MatchLinkage         MatchMethod = "linkage"
	MatchMetadata        MatchMethod = "metadata"
	MatchClientReference MatchMethod = "client_reference"
	MatchEmail           MatchMethod = "email"
	MatchUnlinked        MatchMethod = "unlinked_fallback"
)

// Owner is the outcome of resolving a subscription to a user.
type Owner struct {
	UserID uuid.UUID
	Method MatchMethod
}

// UserDirectory is the slice of the users repository the resolver reads.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// ProfileLinks is the slice of the profiles repository the resolver reads.
type ProfileLinks interface {
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error)
	ListLinkedSubscriptionIDs(ctx context.Context) ([]string, error)
}

// Resolver links provider subscriptions to users in both directions:
// subscription-to-user for webhooks and user-to-subscription for sync.
type Resolver struct {
	users    UserDirectory
	profiles ProfileLinks
}

// NewResolver wires the resolver's read dependencies.
func NewResolver(usersRepo UserDirectory, profilesRepo ProfileLinks) (*Resolver, error) {
	if usersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repository is required")
	}
	if profilesRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repository is required")
	}
	return &Resolver{users: usersRepo, profiles: profilesRepo}, nil
}

// ResolveOwner maps a subscription payload to the owning user. Strategies
// run in priority order: an existing profile linkage wins over checkout
// metadata, which wins over a customer email match. Metadata and email
// matching are skipped for cancelled records, where the correlation keys
// may be stale or the address reused; linkage is status-agnostic.
// Returns nil when no strategy matches.
func (r *Resolver) ResolveOwner(ctx context.Context, sub *dodo.Subscription) (*Owner, error) {
	if sub == nil {
		return nil, nil
	}

	if id := sub.EffectiveID(); id != "" {
		profile, err := r.profiles.FindBySubscriptionID(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up profile by subscription")
		}
		if profile != nil {
			return &Owner{UserID: profile.UserID, Method: MatchLinkage}, nil
		}
	}

	if raw := sub.UserIDFromMetadata(); raw != "" && !sub.IsCancelled() {
		userID, err := uuid.Parse(raw)
		if err == nil {
			user, err := r.users.FindByID(ctx, userID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up user by metadata id")
			}
			if user != nil {
				return &Owner{UserID: user.ID, Method: MatchMetadata}, nil
			}
		}
	}

	if email := sub.CustomerEmail(); email != "" && !sub.IsCancelled() {
		user, err := r.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up user by email")
		}
		if user != nil {
			return &Owner{UserID: user.ID, Method: MatchEmail}, nil
		}
	}

	return nil, nil
}

// subscriptionPredicate reports whether a subscription belongs to the user
// under one matching strategy. Predicates are pure so each can be tested in
// isolation and the chain order stays explicit.
type subscriptionPredicate struct {
	method MatchMethod
	match  func(sub *dodo.Subscription) bool
}

func matchByMetadata(user *models.User) func(*dodo.Subscription) bool {
	id := user.ID.String()
	return func(sub *dodo.Subscription) bool {
		return !sub.IsCancelled() && strings.EqualFold(sub.UserIDFromMetadata(), id)
	}
}

func matchByClientReference(user *models.User) func(*dodo.Subscription) bool {
	id := user.ID.String()
	return func(sub *dodo.Subscription) bool {
		return !sub.IsCancelled() && strings.EqualFold(strings.TrimSpace(sub.ClientReferenceID), id)
	}
}

func matchByEmail(user *models.User) func(*dodo.Subscription) bool {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	return func(sub *dodo.Subscription) bool {
		if email == "" {
			return false
		}
		return strings.ToLower(sub.CustomerEmail()) == email && !sub.IsCancelled()
	}
}

func matchUnlinked(linked map[string]struct{}) func(*dodo.Subscription) bool {
	return func(sub *dodo.Subscription) bool {
		if sub.IsCancelled() {
			return false
		}
		id := sub.EffectiveID()
		if id == "" {
			return false
		}
		_, taken := linked[id]
		return !taken
	}
}

// FindSubscriptionForUser picks the user's subscription out of a provider
// listing. The list is assumed newest-first, so within a strategy the most
// recent candidate wins. The unlinked fallback is a best-effort heuristic
// for subscriptions created before metadata stamping existed: it claims the
// newest active subscription no profile has linked yet.
func (r *Resolver) FindSubscriptionForUser(ctx context.Context, user *models.User, subs []*dodo.Subscription) (*dodo.Subscription, MatchMethod, error) {
	if user == nil || len(subs) == 0 {
		return nil, "", nil
	}

	linkedIDs, err := r.profiles.ListLinkedSubscriptionIDs(ctx)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing linked subscriptions")
	}
	linked := make(map[string]struct{}, len(linkedIDs))
	for _, id := range linkedIDs {
		linked[id] = struct{}{}
	}

	chain := []subscriptionPredicate{
		{method: MatchMetadata, match: matchByMetadata(user)},
		{method: MatchClientReference, match: matchByClientReference(user)},
		{method: MatchEmail, match: matchByEmail(user)},
		{method: MatchUnlinked, match: matchUnlinked(linked)},
	}

	for _, strategy := range chain {
		for _, sub := range subs {
			if sub == nil {
				continue
			}
			if strategy.match(sub) {
				return sub, strategy.method, nil
			}
		}
	}
	return nil, "", nil
}

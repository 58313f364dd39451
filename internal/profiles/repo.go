package profiles

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
)

// Repository handles profile persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, profile *models.Profile) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error)
	UpdateByUserID(ctx context.Context, userID uuid.UUID, fields map[string]any) error
	UpdateBySubscriptionID(ctx context.Context, subscriptionID string, fields map[string]any) error
	ListLinkedSubscriptionIDs(ctx context.Context) ([]string, error)
	ListPremium(ctx context.Context, limit int, minAge time.Duration) ([]models.Profile, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a profiles repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

// FindBySubscriptionID looks the profile up regardless of its plan; a row
// downgraded to free keeps its subscription link for future events.
func (r *repository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	var profile models.Profile
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpdateByUserID(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(fields).Error
}

func (r *repository) UpdateBySubscriptionID(ctx context.Context, subscriptionID string, fields map[string]any) error {
	if subscriptionID == "" || len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(fields).Error
}

// ListLinkedSubscriptionIDs returns every subscription id currently claimed
// by a profile. Used to spot unlinked provider subscriptions during sync.
func (r *repository) ListLinkedSubscriptionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("subscription_id IS NOT NULL").
		Pluck("subscription_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListPremium returns premium profiles with a subscription link, oldest
// update first so reconciliation cycles through the whole set over time.
// A positive minAge skips rows touched within that window, so freshly
// reconciled profiles are not re-checked every pass.
func (r *repository) ListPremium(ctx context.Context, limit int, minAge time.Duration) ([]models.Profile, error) {
	if limit <= 0 {
		limit = 250
	}
	query := r.db.WithContext(ctx).
		Where("plan = ?", enums.PlanPremium).
		Where("subscription_id IS NOT NULL")
	if minAge > 0 {
		query = query.Where("updated_at <= ?", time.Now().Add(-minAge))
	}
	var rows []models.Profile
	if err := query.
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

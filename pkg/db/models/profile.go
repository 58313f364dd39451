package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidserrano-io/plansync-backend/pkg/enums"
)

// Profile holds the billing entitlement state for a single user. One row per
// user; subscription_id links the row to a Dodo Payments subscription.
type Profile struct {
	UserID         uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Plan           enums.Plan `gorm:"column:plan;type:text;not null;default:'free'"`
	AutoRenew      bool       `gorm:"column:auto_renew;not null;default:false"`
	SubscriptionID *string    `gorm:"column:subscription_id;uniqueIndex"`
	CustomerID     *string    `gorm:"column:customer_id"`
	RenewsAt       *time.Time `gorm:"column:renews_at"`
	TrialExpiresAt *time.Time `gorm:"column:trial_expires_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the auth provider's user record. Rows are managed by the
// identity system; this service only reads them.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

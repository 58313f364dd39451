package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/davidserrano-io/plansync-backend/pkg/db/models"
	"github.com/davidserrano-io/plansync-backend/pkg/enums"
)

func setupProfilesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS profiles (
  user_id TEXT PRIMARY KEY,
  plan TEXT NOT NULL DEFAULT 'free',
  auto_renew INTEGER NOT NULL DEFAULT 0,
  subscription_id TEXT,
  customer_id TEXT,
  renews_at DATETIME,
  trial_expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	require.NoError(t, db.Exec(`DELETE FROM profiles`).Error)
	return db
}

func seedProfile(t *testing.T, db *gorm.DB, plan enums.Plan, subscriptionID *string) models.Profile {
	t.Helper()
	profile := models.Profile{
		UserID:         uuid.New(),
		Plan:           plan,
		SubscriptionID: subscriptionID,
	}
	require.NoError(t, db.Create(&profile).Error)
	return profile
}

func strPtr(s string) *string { return &s }

func TestFindBySubscriptionIDIgnoresPlan(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	// A downgraded profile keeps its link and must still be found.
	seeded := seedProfile(t, db, enums.PlanFree, strPtr("sub_linked"))

	found, err := repo.FindBySubscriptionID(ctx, "sub_linked")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, seeded.UserID, found.UserID)

	missing, err := repo.FindBySubscriptionID(ctx, "sub_other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := repo.FindBySubscriptionID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestUpdateByUserIDAppliesFieldMap(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedProfile(t, db, enums.PlanFree, nil)
	renewsAt := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	err := repo.UpdateByUserID(ctx, seeded.UserID, map[string]any{
		"plan":             enums.PlanPremium,
		"auto_renew":       true,
		"subscription_id":  "sub_1",
		"renews_at":        renewsAt,
		"trial_expires_at": nil,
	})
	require.NoError(t, err)

	updated, err := repo.FindByUserID(ctx, seeded.UserID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.PlanPremium, updated.Plan)
	assert.True(t, updated.AutoRenew)
	require.NotNil(t, updated.SubscriptionID)
	assert.Equal(t, "sub_1", *updated.SubscriptionID)
	require.NotNil(t, updated.RenewsAt)
	assert.True(t, renewsAt.Equal(updated.RenewsAt.UTC()))
	assert.Nil(t, updated.TrialExpiresAt)
}

func TestUpdateBySubscriptionIDRequiresID(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedProfile(t, db, enums.PlanPremium, strPtr("sub_keep"))

	// Empty id must be a no-op, never a table-wide update.
	require.NoError(t, repo.UpdateBySubscriptionID(ctx, "", map[string]any{"plan": enums.PlanFree}))

	unchanged, err := repo.FindByUserID(ctx, seeded.UserID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanPremium, unchanged.Plan)

	require.NoError(t, repo.UpdateBySubscriptionID(ctx, "sub_keep", map[string]any{
		"plan":       enums.PlanFree,
		"auto_renew": false,
	}))

	downgraded, err := repo.FindByUserID(ctx, seeded.UserID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, downgraded.Plan)
	require.NotNil(t, downgraded.SubscriptionID)
	assert.Equal(t, "sub_keep", *downgraded.SubscriptionID)
}

func TestListLinkedSubscriptionIDs(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedProfile(t, db, enums.PlanPremium, strPtr("sub_a"))
	seedProfile(t, db, enums.PlanFree, strPtr("sub_b"))
	seedProfile(t, db, enums.PlanFree, nil)

	ids, err := repo.ListLinkedSubscriptionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sub_a", "sub_b"}, ids)
}

func TestListPremiumOnlyLinkedPremium(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	linked := seedProfile(t, db, enums.PlanPremium, strPtr("sub_p"))
	seedProfile(t, db, enums.PlanPremium, nil)
	seedProfile(t, db, enums.PlanFree, strPtr("sub_f"))

	rows, err := repo.ListPremium(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, linked.UserID, rows[0].UserID)
}

func TestListPremiumSkipsRecentlyUpdated(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stale := seedProfile(t, db, enums.PlanPremium, strPtr("sub_stale"))
	require.NoError(t, db.Model(&models.Profile{}).
		Where("user_id = ?", stale.UserID).
		Update("updated_at", time.Now().Add(-48*time.Hour)).Error)

	fresh := seedProfile(t, db, enums.PlanPremium, strPtr("sub_fresh"))
	require.NoError(t, db.Model(&models.Profile{}).
		Where("user_id = ?", fresh.UserID).
		Update("updated_at", time.Now()).Error)

	rows, err := repo.ListPremium(ctx, 10, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.UserID, rows[0].UserID)

	// Zero disables the age filter.
	all, err := repo.ListPremium(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

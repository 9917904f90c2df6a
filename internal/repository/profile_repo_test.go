package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karyadesign/karya-api/internal/models"
)

func TestProfileRepositoryUpsertInsertsThenUpdates(t *testing.T) {
	db := setupTestDB(t, &models.Profile{})
	repo := NewProfileRepository(db)

	profile := models.Profile{ID: "user-1", Role: models.RoleClient, DisplayName: "Before"}
	require.NoError(t, repo.Upsert(context.Background(), &profile))

	profile.DisplayName = "After"
	profile.Role = models.RoleDesigner
	require.NoError(t, repo.Upsert(context.Background(), &profile))

	found, err := repo.FindByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "After", found.DisplayName)
	require.True(t, found.IsStaff())

	var count int64
	require.NoError(t, db.Model(&models.Profile{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestProfileRepositoryFindByIDMissing(t *testing.T) {
	db := setupTestDB(t, &models.Profile{})
	repo := NewProfileRepository(db)

	_, err := repo.FindByID(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

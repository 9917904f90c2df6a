package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/karyadesign/karya-api/internal/models"
)

func TestNotificationRepositoryListByUserScopesAndSorts(t *testing.T) {
	db := setupTestDB(t, &models.Notification{})
	repo := NewNotificationRepository(db)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(context.Background(), &models.Notification{
		UserID: "user-1", Title: "older", Message: "first", CreatedAt: base,
	}))
	require.NoError(t, repo.Create(context.Background(), &models.Notification{
		UserID: "user-1", Title: "newer", Message: "second", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, repo.Create(context.Background(), &models.Notification{
		UserID: "user-2", Title: "foreign", Message: "other user",
	}))

	notifications, err := repo.ListByUser(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	require.Equal(t, "newer", notifications[0].Title)
	require.Equal(t, "older", notifications[1].Title)
}

func TestNotificationRepositoryMarkReadIsOwnerScoped(t *testing.T) {
	db := setupTestDB(t, &models.Notification{})
	repo := NewNotificationRepository(db)

	notification := models.Notification{UserID: "user-1", Title: "ping", Message: "hello"}
	require.NoError(t, repo.Create(context.Background(), &notification))

	marked, err := repo.MarkRead(context.Background(), notification.ID, "user-1")
	require.NoError(t, err)
	require.True(t, marked.Read)

	// Already-read notifications stay read without an extra write.
	again, err := repo.MarkRead(context.Background(), notification.ID, "user-1")
	require.NoError(t, err)
	require.True(t, again.Read)

	_, err = repo.MarkRead(context.Background(), notification.ID, "user-2")
	require.ErrorIs(t, err, ErrNotificationNotFound, "another user's notification is invisible")

	_, err = repo.MarkRead(context.Background(), notification.ID+100, "user-1")
	require.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestNotificationRepositoryListDueAndClearSchedule(t *testing.T) {
	db := setupTestDB(t, &models.Notification{})
	repo := NewNotificationRepository(db)

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	deferred := models.Notification{UserID: "user-1", Title: "deferred", Message: "quiet hours", ScheduledFor: &due}
	pending := models.Notification{UserID: "user-1", Title: "pending", Message: "not yet", ScheduledFor: &future}
	immediate := models.Notification{UserID: "user-1", Title: "immediate", Message: "already delivered"}

	require.NoError(t, repo.Create(context.Background(), &deferred))
	require.NoError(t, repo.Create(context.Background(), &pending))
	require.NoError(t, repo.Create(context.Background(), &immediate))

	dueNow, err := repo.ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, dueNow, 1)
	require.Equal(t, "deferred", dueNow[0].Title)

	require.NoError(t, repo.ClearSchedule(context.Background(), deferred.ID))

	dueAfter, err := repo.ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Empty(t, dueAfter, "released notifications leave the due queue")
}

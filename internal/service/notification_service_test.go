package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/models"
)

type notificationRepoStub struct {
	items  []models.Notification
	nextID uint
}

func (s *notificationRepoStub) Create(ctx context.Context, notification *models.Notification) error {
	s.nextID++
	notification.ID = s.nextID
	notification.CreatedAt = time.Now()
	s.items = append(s.items, *notification)
	return nil
}

func (s *notificationRepoStub) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	var out []models.Notification
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *notificationRepoStub) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	for i, item := range s.items {
		if item.ID == id && item.UserID == userID {
			s.items[i].Read = true
			return s.items[i], nil
		}
	}
	return models.Notification{}, context.Canceled
}

func (s *notificationRepoStub) ListDue(ctx context.Context, before time.Time, limit int) ([]models.Notification, error) {
	var out []models.Notification
	for _, item := range s.items {
		if item.ScheduledFor != nil && !item.ScheduledFor.After(before) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *notificationRepoStub) ClearSchedule(ctx context.Context, id uint) error {
	for i, item := range s.items {
		if item.ID == id {
			s.items[i].ScheduledFor = nil
		}
	}
	return nil
}

func notificationFixture(repo *notificationRepoStub, quiet QuietHours) *notificationService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewNotificationService(repo, nil, "", nil, quiet, validate, testLogger())
	return svc.(*notificationService)
}

func TestQuietHoursWindowWrapsMidnight(t *testing.T) {
	quiet := QuietHours{Enabled: true, Start: 22, End: 7}

	require.True(t, quiet.Contains(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)))
	require.True(t, quiet.Contains(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)))
	require.False(t, quiet.Contains(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.False(t, quiet.Contains(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)), "window end is exclusive")

	disabled := QuietHours{Enabled: false, Start: 22, End: 7}
	require.False(t, disabled.Contains(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)))
}

func TestQuietHoursNextDelivery(t *testing.T) {
	quiet := QuietHours{Enabled: true, Start: 22, End: 7}

	night := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), quiet.NextDelivery(night))

	earlyMorning := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), quiet.NextDelivery(earlyMorning))
}

func TestNotificationPublishDeliversImmediatelyOutsideQuietHours(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := notificationFixture(repo, QuietHours{Enabled: true, Start: 22, End: 7})
	svc.clock = func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }

	stream, cleanup := svc.Subscribe("client-1")
	defer cleanup()

	published, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "client-1",
		Type:    models.NotificationTypeInfo,
		Title:   "Design completed",
		Message: "Your logo order is now completed",
	})
	require.NoError(t, err)
	require.Nil(t, published.ScheduledFor)

	select {
	case received := <-stream:
		require.Equal(t, published.ID, received.ID)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery outside quiet hours")
	}
}

func TestNotificationPublishDefersDuringQuietHours(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := notificationFixture(repo, QuietHours{Enabled: true, Start: 22, End: 7})
	svc.clock = func() time.Time { return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) }

	stream, cleanup := svc.Subscribe("client-1")
	defer cleanup()

	published, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "client-1",
		Type:    models.NotificationTypeInfo,
		Title:   "Design completed",
		Message: "Your logo order is now completed",
	})
	require.NoError(t, err)
	require.NotNil(t, published.ScheduledFor)
	require.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), *published.ScheduledFor)

	select {
	case <-stream:
		t.Fatal("quiet-hours notification must not stream immediately")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationReleaseDueFlushesDeferred(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := notificationFixture(repo, QuietHours{Enabled: true, Start: 22, End: 7})
	svc.clock = func() time.Time { return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) }

	_, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "client-1",
		Type:    models.NotificationTypeInfo,
		Title:   "Design delivered",
		Message: "Your logo order is now delivered",
	})
	require.NoError(t, err)

	stream, cleanup := svc.Subscribe("client-1")
	defer cleanup()

	// Advance past the window end and run one flush pass.
	svc.clock = func() time.Time { return time.Date(2026, 3, 2, 7, 1, 0, 0, time.UTC) }
	svc.releaseDue(context.Background())

	select {
	case received := <-stream:
		require.Nil(t, received.ScheduledFor)
		require.Equal(t, "Design delivered", received.Title)
	case <-time.After(time.Second):
		t.Fatal("deferred notification should be released after quiet hours")
	}

	require.Nil(t, repo.items[0].ScheduledFor, "schedule cleared in storage")

	// A second pass releases nothing more.
	svc.releaseDue(context.Background())
	select {
	case extra := <-stream:
		t.Fatalf("unexpected duplicate release: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationPublishSanitizesMarkup(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := notificationFixture(repo, QuietHours{})

	published, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "client-1",
		Type:    models.NotificationTypeInfo,
		Title:   "<b>Done</b>",
		Message: "<script>alert('x')</script>Your order is ready",
	})
	require.NoError(t, err)
	require.Equal(t, "Done", published.Title)
	require.Equal(t, "Your order is ready", published.Message)

	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "client-1",
		Type:    models.NotificationTypeInfo,
		Title:   "Empty",
		Message: "<script>only markup</script>",
	})
	require.Error(t, err, "message empty after sanitization is rejected")
}

func TestNotificationBrokerDropsSlowSubscribers(t *testing.T) {
	repo := &notificationRepoStub{}
	svc := notificationFixture(repo, QuietHours{})

	stream, cleanup := svc.Subscribe("client-1")
	defer cleanup()

	for i := 0; i < notificationBufferSize+5; i++ {
		_, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
			UserID:  "client-1",
			Type:    models.NotificationTypeInfo,
			Title:   "Update",
			Message: "Order progress update",
		})
		require.NoError(t, err)
	}

	require.Len(t, stream, notificationBufferSize, "overflow is dropped, not blocking")
}

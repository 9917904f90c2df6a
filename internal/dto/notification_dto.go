package dto

import (
	"time"

	"github.com/karyadesign/karya-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	Type     string `json:"type" validate:"required,oneof=info success warning error task deadline"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Title    string `json:"title" validate:"required,min=1,max=255"`
	Message  string `json:"message" validate:"required,min=1,max=2000"`
	OrderID  string `json:"order_id" validate:"omitempty,max=64"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID           uint       `json:"id"`
	UserID       string     `json:"user_id"`
	Type         string     `json:"type"`
	Priority     string     `json:"priority"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Read         bool       `json:"read"`
	OrderID      string     `json:"order_id,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:           model.ID,
		UserID:       model.UserID,
		Type:         model.Type,
		Priority:     model.Priority,
		Title:        model.Title,
		Message:      model.Message,
		Read:         model.Read,
		OrderID:      model.OrderID,
		ScheduledFor: model.ScheduledFor,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification type labels.
const (
	NotificationTypeInfo     = "info"
	NotificationTypeSuccess  = "success"
	NotificationTypeWarning  = "warning"
	NotificationTypeError    = "error"
	NotificationTypeTask     = "task"
	NotificationTypeDeadline = "deadline"
)

// Notification priority labels.
const (
	NotificationPriorityLow      = "low"
	NotificationPriorityNormal   = "normal"
	NotificationPriorityHigh     = "high"
	NotificationPriorityCritical = "critical"
)

// Notification represents an alert targeted to a specific user. ScheduledFor
// is set when delivery was deferred past a quiet-hours window.
type Notification struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	UserID       string            `gorm:"size:64;index" json:"user_id"`
	Type         string            `gorm:"size:32;default:info" json:"type"`
	Priority     string            `gorm:"size:16;default:normal" json:"priority"`
	Title        string            `gorm:"size:255" json:"title"`
	Message      string            `gorm:"type:text" json:"message"`
	Read         bool              `gorm:"not null;default:false" json:"read"`
	OrderID      string            `gorm:"size:64;index" json:"order_id,omitempty"`
	ScheduledFor *time.Time        `gorm:"index" json:"scheduled_for,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

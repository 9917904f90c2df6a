package models

import "time"

// Order status values walked by the happy path, plus the terminal cancel.
const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Order priority labels.
const (
	OrderPriorityLow      = "low"
	OrderPriorityMedium   = "medium"
	OrderPriorityHigh     = "high"
	OrderPriorityCritical = "critical"
)

// DesignOrder represents a client's design request and its fulfilment state.
type DesignOrder struct {
	ID                string     `gorm:"primaryKey;size:64" json:"id"`
	ClientID          string     `gorm:"size:64;index" json:"client_id"`
	ClientName        string     `gorm:"size:128" json:"client_name"`
	ClientPhone       string     `gorm:"size:32" json:"client_phone"`
	DesignType        string     `gorm:"size:64" json:"design_type"`
	Description       string     `gorm:"type:text" json:"description"`
	Status            string     `gorm:"size:32;index;default:pending" json:"status"`
	Priority          string     `gorm:"size:16;default:medium" json:"priority"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Price             *int64     `json:"price,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsTerminalStatus reports whether no further transition may leave the status.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusCancelled || status == OrderStatusDelivered
}

// IsValidStatus reports whether the status is one of the known order states.
func IsValidStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

package models

import "time"

// Sender roles attached to chat messages.
const (
	RoleClient   = "client"
	RoleDesigner = "designer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Chat message kinds.
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// ChatRoom is the single conversation attached to one design order.
type ChatRoom struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	OrderID     string    `gorm:"size:64;uniqueIndex" json:"order_id"`
	ClientID    string    `gorm:"size:64;index" json:"client_id"`
	AdminID     *string   `gorm:"size:64" json:"admin_id,omitempty"`
	UnreadCount int       `gorm:"not null;default:0" json:"unread_count"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMessage is a single message inside an order's room. Immutable after
// creation except for the read flag.
type ChatMessage struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	RoomID     string    `gorm:"size:64;index" json:"room_id"`
	OrderID    string    `gorm:"size:64;index" json:"order_id"`
	SenderID   string    `gorm:"size:64;index" json:"sender_id"`
	SenderName string    `gorm:"size:128" json:"sender_name"`
	SenderRole string    `gorm:"size:32" json:"sender_role"`
	Content    string    `gorm:"type:text" json:"content"`
	Type       string    `gorm:"size:32;default:text" json:"type"`
	Read       bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

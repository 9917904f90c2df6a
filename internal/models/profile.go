package models

import "time"

// Profile describes an authenticated user of the platform.
type Profile struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Role        string    `gorm:"size:32;index;default:client" json:"role"`
	DisplayName string    `gorm:"size:128" json:"display_name"`
	Phone       string    `gorm:"size:32" json:"phone"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsStaff reports whether the profile may manage orders.
func (p Profile) IsStaff() bool {
	return p.Role == RoleDesigner || p.Role == RoleAdmin
}

package models

import "time"

// AppMembership records a user's relationship to an echo app, including the
// consent grant collected on the authorize page. There is at most one record
// per (UserID, EchoAppID) pair.
type AppMembership struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	UserID    string `gorm:"not null;uniqueIndex:idx_user_echo_app"` // FK → User.ID
	EchoAppID string `gorm:"not null;uniqueIndex:idx_user_echo_app"` // FK → EchoApp.ID

	Role      string `gorm:"not null;default:'customer'"`
	Scopes    string `gorm:"not null"`
	GrantedAt time.Time
	RevokedAt *time.Time
	IsActive  bool `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AppMembership) TableName() string {
	return "app_memberships"
}

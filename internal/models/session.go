package models

import "time"

// Session is one device-visible login between a user and an echo app. It is
// created inside the code-exchange transaction and touched on every refresh,
// so LastSeenAt reflects the most recent credential activity. Revoking a
// session archives every refresh token bound to it.
type Session struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	EchoAppID  string `gorm:"not null;index"`
	DeviceName string
	UserAgent  string
	IPAddress  string
	LastSeenAt time.Time `gorm:"index"`
	RevokedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRevoked returns true if the session has been revoked
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

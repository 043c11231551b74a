package models

import "time"

type RefreshToken struct {
	ID        string `gorm:"primaryKey"`
	TokenHash string `gorm:"uniqueIndex;not null"` // SHA-256 of the raw token
	RawToken  string `gorm:"-"`                    // In-memory only; never persisted to DB
	UserID    string `gorm:"not null;index"`
	EchoAppID string `gorm:"not null;index"`
	SessionID string `gorm:"not null;index"`
	Scopes    string `gorm:"not null"` // space-separated scopes

	ExpiresAt  time.Time
	IsArchived bool       `gorm:"not null;default:false;index"`
	ArchivedAt *time.Time `gorm:"index"`
	GraceUsed  bool       `gorm:"not null;default:false"` // archived token's one grace retry spent

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Archive marks the token consumed. The timestamp anchors the rotation grace
// window for late retries of the same token.
func (t *RefreshToken) Archive(now time.Time) {
	t.IsArchived = true
	t.ArchivedAt = &now
}

package models

import "time"

// Balance holds a user's spendable credits in micro-USD. The row is only ever
// mutated through conditional UPDATE statements, never read-modify-write.
type Balance struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	UserID  string `gorm:"uniqueIndex;not null"`
	Credits int64  `gorm:"not null;default:0"` // micro-USD

	CreatedAt time.Time
	UpdatedAt time.Time
}

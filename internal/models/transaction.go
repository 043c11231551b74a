package models

import "time"

// Transaction statuses.
const (
	TransactionCompleted = "completed"
	TransactionFailed    = "failed" // usage recorded but the balance decrement was rejected
)

// Transaction is the immutable record of one metered upstream call. Rows are
// written once by the proxy finalizer and never updated.
type Transaction struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	EchoAppID string `gorm:"not null;index"`

	Provider     string `gorm:"not null"` // "openai" or "anthropic"
	Model        string `gorm:"not null;index"`
	InputTokens  int64  `gorm:"not null"`
	OutputTokens int64  `gorm:"not null"`
	TotalTokens  int64  `gorm:"not null"`
	Cost         int64  `gorm:"not null"` // micro-USD
	Status       string `gorm:"not null;index"`

	CreatedAt time.Time
}

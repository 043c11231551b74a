package models

import "time"

// ConsumedAuthCode records a redeemed authorization code by the nonce minted
// into it, so each code can be exchanged at most once. The cleanup job sweeps
// rows once ExpiresAt passes, after which the code itself no longer verifies.
type ConsumedAuthCode struct {
	Nonce     string    `gorm:"primaryKey"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

package services

import (
	"errors"

	"github.com/echo-platform/echogate/internal/store"

	"gorm.io/gorm"
)

// BalanceService is the spend ledger gate. All mutation goes through
// conditional updates in the store; this layer maps store errors onto the
// service error taxonomy.
type BalanceService struct {
	store *store.Store
}

func NewBalanceService(s *store.Store) *BalanceService {
	return &BalanceService{store: s}
}

// Check returns the user's current balance in micro-USD. A missing balance
// row reads as zero.
func (s *BalanceService) Check(userID string) (int64, error) {
	balance, err := s.store.GetBalance(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Credits, nil
}

// Decrement atomically subtracts amount, refusing if the balance cannot
// cover it. Landing exactly on zero is allowed.
func (s *BalanceService) Decrement(userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := s.store.DecrementBalance(nil, userID, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return ErrInsufficientBalance
		}
		return err
	}
	return nil
}

// Increment adds credits. The entry point for grants, payments and refunds.
func (s *BalanceService) Increment(userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return s.store.IncrementBalance(userID, amount)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/models"
	"github.com/echo-platform/echogate/internal/store"

	"gorm.io/gorm"
)

// SessionService manages the session registry: listing, revocation with
// credential cascade, and background cleanup.
type SessionService struct {
	store   *store.Store
	metrics metrics.Recorder
}

func NewSessionService(s *store.Store, recorder metrics.Recorder) *SessionService {
	return &SessionService{store: s, metrics: recorder}
}

// List returns the user's active sessions, most recently seen first
func (s *SessionService) List(userID string) ([]models.Session, error) {
	return s.store.GetSessionsByUserID(userID)
}

// Revoke marks a session revoked and archives every refresh token bound to
// it. Access tokens already minted ride out their short TTL; no new
// credentials can be derived from the session afterwards.
func (s *SessionService) Revoke(ctx context.Context, sessionID, userID string) error {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	// Ownership check doubles as an existence oracle guard
	if session.UserID != userID {
		return ErrSessionNotFound
	}
	if session.IsRevoked() {
		return nil
	}

	tx := s.store.DB().Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()
	now := time.Now()
	if err := tx.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("revoked_at", &now).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if err := s.store.ArchiveRefreshTokensBySession(tx, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to archive session tokens: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit revocation: %w", err)
	}

	s.metrics.RecordSessionRevoked("user")
	return nil
}

// RevokeAll revokes every active session of a user
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int, error) {
	sessions, err := s.store.GetSessionsByUserID(userID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, session := range sessions {
		if err := s.Revoke(ctx, session.ID, userID); err != nil {
			log.Printf("failed to revoke session %s: %v", session.ID, err)
			continue
		}
		revoked++
	}
	return revoked, nil
}

// Cleanup archives expired refresh tokens, sweeps expired consumed-code
// records, and deletes stale sessions. Run periodically by the background job.
func (s *SessionService) Cleanup(staleAfter time.Duration) {
	if archived, err := s.store.ArchiveExpiredRefreshTokens(); err != nil {
		log.Printf("cleanup: failed to archive expired refresh tokens: %v", err)
	} else if archived > 0 {
		log.Printf("cleanup: archived %d expired refresh tokens", archived)
	}

	if swept, err := s.store.DeleteExpiredAuthCodes(); err != nil {
		log.Printf("cleanup: failed to sweep consumed auth codes: %v", err)
	} else if swept > 0 {
		log.Printf("cleanup: swept %d consumed auth codes", swept)
	}

	if deleted, err := s.store.DeleteStaleSessions(time.Now().Add(-staleAfter)); err != nil {
		log.Printf("cleanup: failed to delete stale sessions: %v", err)
	} else if deleted > 0 {
		log.Printf("cleanup: deleted %d stale sessions", deleted)
	}
}

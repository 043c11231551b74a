package store

import (
	"testing"
	"time"

	"github.com/echo-platform/echogate/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("sqlite", ":memory:")
	require.NoError(t, err)
	return s
}

func createTestUser(t *testing.T, s *Store) *models.User {
	t.Helper()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        uuid.New().String() + "@example.com",
		PasswordHash: "x",
		Name:         "Test User",
		Role:         "user",
	}
	require.NoError(t, s.CreateUser(user))
	return user
}

func TestSeedData(t *testing.T) {
	s := newTestStore(t)

	user, err := s.GetUserByEmail("admin@localhost")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())

	balance, err := s.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), balance.Credits)

	var apps []models.EchoApp
	require.NoError(t, s.DB().Find(&apps).Error)
	require.Len(t, apps, 1)
	assert.Contains(t, apps[0].RedirectURIs, "http://localhost/callback")
}

func TestGetRotatableRefreshToken(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	graceWindow := 2 * time.Minute
	accessTTL := time.Hour

	newToken := func(mutate func(*models.RefreshToken)) *models.RefreshToken {
		tok := &models.RefreshToken{
			ID:        uuid.New().String(),
			TokenHash: uuid.New().String(),
			UserID:    user.ID,
			EchoAppID: uuid.New().String(),
			SessionID: uuid.New().String(),
			Scopes:    "openid",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}
		if mutate != nil {
			mutate(tok)
		}
		require.NoError(t, s.CreateRefreshToken(tok))
		return tok
	}

	t.Run("active token is rotatable", func(t *testing.T) {
		tok := newToken(nil)
		got, err := s.GetRotatableRefreshToken(tok.TokenHash, graceWindow, accessTTL)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, got.ID)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		tok := newToken(func(tok *models.RefreshToken) {
			tok.ExpiresAt = time.Now().Add(-time.Minute)
		})
		_, err := s.GetRotatableRefreshToken(tok.TokenHash, graceWindow, accessTTL)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("recently archived token is inside the grace window", func(t *testing.T) {
		archived := time.Now().Add(-30 * time.Second)
		tok := newToken(func(tok *models.RefreshToken) {
			tok.IsArchived = true
			tok.ArchivedAt = &archived
		})
		got, err := s.GetRotatableRefreshToken(tok.TokenHash, graceWindow, accessTTL)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, got.ID)
	})

	t.Run("token archived past the grace window is rejected", func(t *testing.T) {
		archived := time.Now().Add(-5 * time.Minute)
		tok := newToken(func(tok *models.RefreshToken) {
			tok.IsArchived = true
			tok.ArchivedAt = &archived
		})
		_, err := s.GetRotatableRefreshToken(tok.TokenHash, graceWindow, accessTTL)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("grace window never outlives the paired access token", func(t *testing.T) {
		archived := time.Now().Add(-90 * time.Second)
		tok := newToken(func(tok *models.RefreshToken) {
			tok.IsArchived = true
			tok.ArchivedAt = &archived
		})
		// Inside the 2m grace window, but the access token issued at
		// archive time only lived one minute.
		_, err := s.GetRotatableRefreshToken(tok.TokenHash, graceWindow, time.Minute)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestArchiveRefreshToken(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	tok := &models.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: uuid.New().String(),
		UserID:    user.ID,
		EchoAppID: uuid.New().String(),
		SessionID: uuid.New().String(),
		Scopes:    "openid",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateRefreshToken(tok))

	require.NoError(t, s.ArchiveRefreshToken(nil, tok.ID))

	// A second archive of the same token reports the conflict
	err := s.ArchiveRefreshToken(nil, tok.ID)
	assert.ErrorIs(t, err, ErrRefreshTokenConsumed)

	got, err := s.GetRefreshTokenByHash(tok.TokenHash)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	require.NotNil(t, got.ArchivedAt)
}

func TestArchiveRefreshTokensBySession(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	sessionID := uuid.New().String()

	for i := 0; i < 3; i++ {
		tok := &models.RefreshToken{
			ID:        uuid.New().String(),
			TokenHash: uuid.New().String(),
			UserID:    user.ID,
			EchoAppID: uuid.New().String(),
			SessionID: sessionID,
			Scopes:    "openid",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, s.CreateRefreshToken(tok))
	}

	require.NoError(t, s.ArchiveRefreshTokensBySession(nil, sessionID))

	var active int64
	require.NoError(t, s.DB().Model(&models.RefreshToken{}).
		Where("session_id = ? AND is_archived = ?", sessionID, false).
		Count(&active).Error)
	assert.Zero(t, active)
}

func TestDecrementBalance(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	require.NoError(t, s.CreateBalance(&models.Balance{UserID: user.ID, Credits: 100}))

	// Landing exactly on zero is allowed
	require.NoError(t, s.DecrementBalance(nil, user.ID, 60))
	require.NoError(t, s.DecrementBalance(nil, user.ID, 40))

	balance, err := s.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Credits)

	// Nothing is applied when the guard fails
	err = s.DecrementBalance(nil, user.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err = s.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Credits)

	// Missing balance row behaves like an empty balance
	err = s.DecrementBalance(nil, uuid.New().String(), 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestIncrementBalance(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)
	require.NoError(t, s.CreateBalance(&models.Balance{UserID: user.ID, Credits: 5}))

	require.NoError(t, s.IncrementBalance(user.ID, 95))

	balance, err := s.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Credits)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	sess := &models.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		EchoAppID:  uuid.New().String(),
		UserAgent:  "test-agent",
		IPAddress:  "127.0.0.1",
		LastSeenAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.DB().Create(sess).Error)

	require.NoError(t, s.TouchSession(nil, sess.ID, "10.0.0.1", "new-agent"))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.Equal(t, "new-agent", got.UserAgent)
	assert.WithinDuration(t, time.Now(), got.LastSeenAt, 5*time.Second)

	sessions, err := s.GetSessionsByUserID(user.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	// Revoked sessions disappear from the listing and get cleaned up
	now := time.Now()
	require.NoError(t, s.DB().Model(&models.Session{}).
		Where("id = ?", sess.ID).
		Update("revoked_at", &now).Error)

	sessions, err = s.GetSessionsByUserID(user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	deleted, err := s.DeleteStaleSessions(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestGaugeCounts(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	require.NoError(t, s.DB().Create(&models.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		EchoAppID:  uuid.New().String(),
		LastSeenAt: time.Now(),
	}).Error)
	require.NoError(t, s.CreateRefreshToken(&models.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: uuid.New().String(),
		UserID:    user.ID,
		EchoAppID: uuid.New().String(),
		SessionID: uuid.New().String(),
		Scopes:    "openid",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	sessions, err := s.CountActiveSessions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions)

	tokens, err := s.CountActiveRefreshTokens()
	require.NoError(t, err)
	assert.Equal(t, int64(1), tokens)
}

func TestArchiveExpiredRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s)

	expired := &models.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: uuid.New().String(),
		UserID:    user.ID,
		EchoAppID: uuid.New().String(),
		SessionID: uuid.New().String(),
		Scopes:    "openid",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.CreateRefreshToken(expired))

	archived, err := s.ArchiveExpiredRefreshTokens()
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	got, err := s.GetRefreshTokenByHash(expired.TokenHash)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

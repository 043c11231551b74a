package store

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"time"

	"github.com/echo-platform/echogate/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func New(driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto migrate
	if err := db.AutoMigrate(
		&models.User{},
		&models.EchoApp{},
		&models.AppMembership{},
		&models.Session{},
		&models.RefreshToken{},
		&models.ConsumedAuthCode{},
		&models.Balance{},
		&models.Transaction{},
	); err != nil {
		return nil, err
	}

	store := &Store{db: db}

	// Seed default data
	if err := store.seedData(); err != nil {
		log.Printf("Warning: failed to seed data: %v", err)
	}

	return store, nil
}

// generateRandomPassword generates a random password of specified length
func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	// Use base64 URL encoding to get a safe, printable password
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

func (s *Store) seedData() error {
	// Create default admin user if not exists
	var userCount int64
	s.db.Model(&models.User{}).Count(&userCount)
	userID := uuid.New().String()
	if userCount == 0 {
		password, err := generateRandomPassword(16)
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user := &models.User{
			ID:           userID,
			Email:        "admin@localhost",
			PasswordHash: string(hash),
			Name:         "Administrator",
			Role:         "admin",
		}
		if err := s.db.Create(user).Error; err != nil {
			return err
		}
		if err := s.db.Create(&models.Balance{UserID: userID, Credits: 10_000_000}).Error; err != nil {
			return err
		}
		log.Printf("Created default user: admin@localhost / %s (role: admin)", password)
	}

	// Create default echo app if not exists
	var appCount int64
	s.db.Model(&models.EchoApp{}).Count(&appCount)
	if appCount == 0 {
		appID := uuid.New().String()
		app := &models.EchoApp{
			ID:          appID,
			Name:        "EchoGate Playground",
			Description: "Default app for local development",
			RedirectURIs: models.StringArray{
				"http://localhost/callback",
			},
			Scopes: "openid profile chat",
		}
		if err := s.db.Create(app).Error; err != nil {
			return err
		}
		log.Printf("Created default echo app: %s (EchoGate Playground)", appID)
	}

	return nil
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DB returns the underlying GORM database connection (for transactions)
func (s *Store) DB() *gorm.DB {
	return s.db
}

// User operations

func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByID(id string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(user *models.User) error {
	return s.db.Create(user).Error
}

// Echo app operations

func (s *Store) GetEchoApp(id string) (*models.EchoApp, error) {
	var app models.EchoApp
	if err := s.db.Where("id = ?", id).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Store) CreateEchoApp(app *models.EchoApp) error {
	return s.db.Create(app).Error
}

// Membership operations

func (s *Store) GetMembership(userID, echoAppID string) (*models.AppMembership, error) {
	var m models.AppMembership
	err := s.db.Where("user_id = ? AND echo_app_id = ?", userID, echoAppID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMembership(m *models.AppMembership) error {
	return s.db.Create(m).Error
}

func (s *Store) UpdateMembership(m *models.AppMembership) error {
	return s.db.Save(m).Error
}

// Session operations

func (s *Store) GetSession(id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) GetSessionsByUserID(userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("last_seen_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// TouchSession refreshes the activity metadata recorded on a session
func (s *Store) TouchSession(tx *gorm.DB, id, ipAddress, userAgent string) error {
	if tx == nil {
		tx = s.db
	}
	updates := map[string]interface{}{
		"last_seen_at": time.Now(),
	}
	if ipAddress != "" {
		updates["ip_address"] = ipAddress
	}
	if userAgent != "" {
		updates["user_agent"] = userAgent
	}
	return tx.Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteStaleSessions removes revoked sessions whose refresh tokens have all
// expired and sessions with no activity past the cutoff.
func (s *Store) DeleteStaleSessions(cutoff time.Time) (int64, error) {
	res := s.db.Where("revoked_at IS NOT NULL OR last_seen_at < ?", cutoff).
		Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// Refresh token operations

func (s *Store) CreateRefreshToken(token *models.RefreshToken) error {
	return s.db.Create(token).Error
}

// GetRefreshTokenByHash returns the stored token for a raw-token hash
// regardless of its archived state. Rotation eligibility is decided by
// GetRotatableRefreshToken.
func (s *Store) GetRefreshTokenByHash(hash string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	if err := s.db.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetRotatableRefreshToken looks up a refresh token eligible for rotation: an
// active one, or one already archived within the grace window whose paired
// access token (issued at archive time) is still alive and whose grace
// allowance is unspent. The window tolerates exactly one duplicate retry of a
// rotation whose response was lost; both cutoffs bound how long that lasts.
func (s *Store) GetRotatableRefreshToken(
	hash string,
	graceWindow, accessTokenTTL time.Duration,
) (*models.RefreshToken, error) {
	now := time.Now()
	graceCutoff := now.Add(-graceWindow)
	accessCutoff := now.Add(-accessTokenTTL)

	var t models.RefreshToken
	err := s.db.Where(
		"token_hash = ? AND expires_at > ? AND (is_archived = ? OR (grace_used = ? AND archived_at > ? AND archived_at > ?))",
		hash, now, false, false, graceCutoff, accessCutoff,
	).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ArchiveRefreshToken marks an active token consumed. Returns
// ErrRefreshTokenConsumed when a concurrent rotation got there first.
func (s *Store) ArchiveRefreshToken(tx *gorm.DB, id string) error {
	if tx == nil {
		tx = s.db
	}
	res := tx.Model(&models.RefreshToken{}).
		Where("id = ? AND is_archived = ?", id, false).
		Updates(map[string]interface{}{
			"is_archived": true,
			"archived_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRefreshTokenConsumed
	}
	return nil
}

// MarkRefreshTokenGraceUsed spends the single grace-window retry of an
// archived token. Returns ErrRefreshTokenConsumed when it was already spent
// by a concurrent retry.
func (s *Store) MarkRefreshTokenGraceUsed(tx *gorm.DB, id string) error {
	if tx == nil {
		tx = s.db
	}
	res := tx.Model(&models.RefreshToken{}).
		Where("id = ? AND is_archived = ? AND grace_used = ?", id, true, false).
		Update("grace_used", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRefreshTokenConsumed
	}
	return nil
}

// ArchiveRefreshTokensBySession archives every active refresh token bound to
// a session. Used by session revocation.
func (s *Store) ArchiveRefreshTokensBySession(tx *gorm.DB, sessionID string) error {
	if tx == nil {
		tx = s.db
	}
	return tx.Model(&models.RefreshToken{}).
		Where("session_id = ? AND is_archived = ?", sessionID, false).
		Updates(map[string]interface{}{
			"is_archived": true,
			"archived_at": time.Now(),
		}).Error
}

// ArchiveExpiredRefreshTokens archives active tokens past their expiry
func (s *Store) ArchiveExpiredRefreshTokens() (int64, error) {
	res := s.db.Model(&models.RefreshToken{}).
		Where("is_archived = ? AND expires_at < ?", false, time.Now()).
		Updates(map[string]interface{}{
			"is_archived": true,
			"archived_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ConsumeAuthCode records the nonce of a redeemed authorization code. Returns
// ErrAuthCodeConsumed when the nonce is already recorded. The primary key on
// the nonce backstops two exchanges racing past the existence check.
func (s *Store) ConsumeAuthCode(tx *gorm.DB, nonce string, expiresAt time.Time) error {
	if tx == nil {
		tx = s.db
	}
	var count int64
	if err := tx.Model(&models.ConsumedAuthCode{}).
		Where("nonce = ?", nonce).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAuthCodeConsumed
	}
	return tx.Create(&models.ConsumedAuthCode{Nonce: nonce, ExpiresAt: expiresAt}).Error
}

// DeleteExpiredAuthCodes drops consumed-code records whose codes can no
// longer verify anyway.
func (s *Store) DeleteExpiredAuthCodes() (int64, error) {
	res := s.db.Where("expires_at < ?", time.Now()).
		Delete(&models.ConsumedAuthCode{})
	return res.RowsAffected, res.Error
}

// Gauge queries for the metrics update job

func (s *Store) CountActiveSessions() (int64, error) {
	var count int64
	err := s.db.Model(&models.Session{}).
		Where("revoked_at IS NULL").
		Count(&count).Error
	return count, err
}

func (s *Store) CountActiveRefreshTokens() (int64, error) {
	var count int64
	err := s.db.Model(&models.RefreshToken{}).
		Where("is_archived = ? AND expires_at > ?", false, time.Now()).
		Count(&count).Error
	return count, err
}

// Balance operations

func (s *Store) GetBalance(userID string) (*models.Balance, error) {
	var b models.Balance
	if err := s.db.Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBalance(b *models.Balance) error {
	return s.db.Create(b).Error
}

// DecrementBalance applies a single conditional UPDATE guarded on the current
// balance. Zero matched rows means the balance cannot cover the amount and
// nothing was applied.
func (s *Store) DecrementBalance(tx *gorm.DB, userID string, amount int64) error {
	if tx == nil {
		tx = s.db
	}
	res := tx.Model(&models.Balance{}).
		Where("user_id = ? AND credits >= ?", userID, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// IncrementBalance adds credits unconditionally (grants, payments, refunds)
func (s *Store) IncrementBalance(userID string, amount int64) error {
	return s.db.Model(&models.Balance{}).
		Where("user_id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount)).Error
}

// Transaction operations

func (s *Store) CreateTransaction(t *models.Transaction) error {
	return s.db.Create(t).Error
}

func (s *Store) GetTransactionsByUserID(userID string, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

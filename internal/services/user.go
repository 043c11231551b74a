package services

import (
	"errors"

	"github.com/echo-platform/echogate/internal/models"
	"github.com/echo-platform/echogate/internal/store"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserService handles local credential checks and user lookups
type UserService struct {
	store *store.Store
}

func NewUserService(s *store.Store) *UserService {
	return &UserService{store: s}
}

// Authenticate verifies an email/password pair against the stored bcrypt
// hash. Unknown emails and wrong passwords return the same error.
func (s *UserService) Authenticate(email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.IsArchived {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(
		[]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUserByID returns a user by primary key
func (s *UserService) GetUserByID(id string) (*models.User, error) {
	return s.store.GetUserByID(id)
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/models"
	"github.com/echo-platform/echogate/internal/store"
	"github.com/echo-platform/echogate/internal/token"
	"github.com/echo-platform/echogate/internal/util"

	"github.com/google/uuid"
)

// OAuthService implements the authorization-code flow with PKCE: authorize
// request validation, consent, code issuance, code exchange and refresh
// token rotation.
type OAuthService struct {
	store   *store.Store
	codec   *token.Codec
	config  *config.Config
	metrics metrics.Recorder
}

func NewOAuthService(
	s *store.Store,
	codec *token.Codec,
	cfg *config.Config,
	recorder metrics.Recorder,
) *OAuthService {
	return &OAuthService{
		store:   s,
		codec:   codec,
		config:  cfg,
		metrics: recorder,
	}
}

// AuthorizeRequest carries the query parameters of GET /oauth/authorize
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

// ValidatedAuthorizeRequest is an AuthorizeRequest that passed validation
type ValidatedAuthorizeRequest struct {
	App         *models.EchoApp
	RedirectURI string
	Scope       string
	State       string

	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizeRequest checks every parameter of an incoming authorize
// request before any page is rendered or code minted.
func (s *OAuthService) ValidateAuthorizeRequest(req AuthorizeRequest) (*ValidatedAuthorizeRequest, error) {
	// 1. response_type must be "code"
	if req.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType
	}

	// 2. App must exist and be active
	app, err := s.store.GetEchoApp(req.ClientID)
	if err != nil || app.IsArchived {
		return nil, ErrUnauthorizedClient
	}

	// 3. redirect_uri must match a registered URI (trailing-slash
	// normalized, localhost may vary its port)
	if !s.isValidRedirectURI(app, req.RedirectURI) {
		return nil, ErrInvalidRedirectURI
	}

	// 4. Scope must be a subset of the app's allowed scopes
	scope := req.Scope
	if scope != "" && !scopeIsSubset(app.Scopes, scope) {
		return nil, ErrInvalidScope
	}
	if scope == "" {
		scope = app.Scopes // Default to all app scopes
	}

	// 5. PKCE is mandatory, S256 only
	if req.CodeChallenge == "" || req.CodeChallengeMethod != "S256" {
		return nil, ErrInvalidRequest
	}

	return &ValidatedAuthorizeRequest{
		App:                 app,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}, nil
}

// HasConsent reports whether the user already granted this app a scope set
// covering the request, so the consent page can be skipped.
func (s *OAuthService) HasConsent(userID string, app *models.EchoApp, scope string) bool {
	if !s.config.ConsentRemember {
		return false
	}
	m, err := s.store.GetMembership(userID, app.ID)
	if err != nil || !m.IsActive {
		return false
	}
	return scopeIsSubset(m.Scopes, scope)
}

// GrantConsent records the user's approval as an app membership
func (s *OAuthService) GrantConsent(userID string, app *models.EchoApp, scope string) error {
	m, err := s.store.GetMembership(userID, app.ID)
	if err != nil {
		return s.store.CreateMembership(&models.AppMembership{
			UserID:    userID,
			EchoAppID: app.ID,
			Role:      "customer",
			Scopes:    scope,
			GrantedAt: time.Now(),
			IsActive:  true,
		})
	}

	m.Scopes = mergeScopes(m.Scopes, scope)
	m.GrantedAt = time.Now()
	m.RevokedAt = nil
	m.IsActive = true
	return s.store.UpdateMembership(m)
}

// IssueCode mints an authorization code for an approved request
func (s *OAuthService) IssueCode(userID string, req *ValidatedAuthorizeRequest) (string, error) {
	code, err := s.codec.IssueAuthorizationCode(token.AuthorizationCodeInput{
		UserID:              userID,
		EchoAppID:           req.App.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	s.metrics.RecordAuthorizationCodeIssued(err == nil)
	return code, err
}

// ExchangeInput carries the form parameters of the authorization_code grant
type ExchangeInput struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string

	IPAddress string
	UserAgent string
}

// UserInfo is the user summary embedded in a token response
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AppInfo is the app summary embedded in a token response
type AppInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TokenResult is the outcome of a successful exchange or refresh
type TokenResult struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	RefreshExpiresIn int64
	Scope            string
	SessionID        string

	User UserInfo
	App  AppInfo
}

// ExchangeCode redeems an authorization code for a token pair. Codes are
// single use; the consumed nonce is recorded inside the exchange
// transaction. Every rejection, from a bad signature to a replayed code,
// surfaces as ErrInvalidGrant; the true reason is only logged server-side.
func (s *OAuthService) ExchangeCode(ctx context.Context, input ExchangeInput) (*TokenResult, error) {
	fail := func(reason string) (*TokenResult, error) {
		log.Printf("code exchange rejected: %s", reason)
		s.metrics.RecordCodeExchange("invalid_grant")
		return nil, ErrInvalidGrant
	}

	claims, err := s.codec.VerifyAuthorizationCode(input.Code)
	if err != nil {
		return fail("code verification failed")
	}
	if claims.EchoAppID != input.ClientID {
		return fail("client_id mismatch")
	}
	if claims.RedirectURI != input.RedirectURI {
		return fail("redirect_uri mismatch")
	}
	if !verifyPKCE(claims.CodeChallenge, input.CodeVerifier) {
		return fail("code_verifier mismatch")
	}

	user, err := s.store.GetUserByID(claims.UserID)
	if err != nil || user.IsArchived {
		return fail("user missing or archived")
	}
	app, err := s.store.GetEchoApp(claims.EchoAppID)
	if err != nil || app.IsArchived {
		return fail("app missing or archived")
	}

	// First exchange for this pair creates the membership lazily
	if _, err := s.store.GetMembership(user.ID, app.ID); err != nil {
		if err := s.store.CreateMembership(&models.AppMembership{
			UserID:    user.ID,
			EchoAppID: app.ID,
			Role:      "customer",
			Scopes:    claims.Scope,
			GrantedAt: time.Now(),
			IsActive:  true,
		}); err != nil {
			s.metrics.RecordCodeExchange("error")
			return nil, fmt.Errorf("failed to create membership: %w", err)
		}
	}

	session := &models.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		EchoAppID:  app.ID,
		DeviceName: deviceNameFromUserAgent(input.UserAgent),
		UserAgent:  input.UserAgent,
		IPAddress:  input.IPAddress,
		LastSeenAt: time.Now(),
	}
	rawRefresh, refreshRecord, err := s.newRefreshToken(user.ID, app.ID, session.ID, claims.Scope)
	if err != nil {
		s.metrics.RecordCodeExchange("error")
		return nil, err
	}

	// Code consumption, session, and refresh token commit as one
	// transaction: a replayed code must not leave a session behind, and a
	// session without its credential must never exist.
	tx := s.store.DB().Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()
	if err := s.store.ConsumeAuthCode(tx, claims.Nonce, claims.ExpiresAt); err != nil {
		tx.Rollback()
		if errors.Is(err, store.ErrAuthCodeConsumed) {
			return fail("code already redeemed")
		}
		s.metrics.RecordCodeExchange("error")
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if err := tx.Create(session).Error; err != nil {
		tx.Rollback()
		s.metrics.RecordCodeExchange("error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := tx.Create(refreshRecord).Error; err != nil {
		tx.Rollback()
		s.metrics.RecordCodeExchange("error")
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		s.metrics.RecordCodeExchange("error")
		return nil, fmt.Errorf("failed to commit exchange: %w", err)
	}

	// Access token is stateless; mint it after the durable state exists
	accessToken, _, err := s.codec.IssueAccessToken(user.ID, app.ID, claims.Scope, session.ID)
	if err != nil {
		s.metrics.RecordCodeExchange("error")
		return nil, err
	}

	s.metrics.RecordCodeExchange("success")
	return s.tokenResult(accessToken, rawRefresh, claims.Scope, session.ID, user, app), nil
}

// Refresh rotates a refresh token. The lookup tolerates a token consumed
// moments ago (bounded grace window) so a client that lost the rotation
// response can retry without being locked out; the window admits exactly
// one such retry per token.
func (s *OAuthService) Refresh(ctx context.Context, rawToken, ipAddress, userAgent string) (*TokenResult, error) {
	fail := func(reason string) (*TokenResult, error) {
		log.Printf("token refresh rejected: %s", reason)
		s.metrics.RecordTokenRefresh("invalid_grant")
		return nil, ErrInvalidGrant
	}

	hash := util.SHA256Hex(rawToken)
	record, err := s.store.GetRotatableRefreshToken(
		hash, s.config.RefreshGraceWindow, s.config.AccessTokenExpiration)
	if err != nil {
		// Outside the window: archive a lingering active record so the
		// rejection is also durable, then refuse.
		if stale, lookupErr := s.store.GetRefreshTokenByHash(hash); lookupErr == nil && !stale.IsArchived {
			if archiveErr := s.store.ArchiveRefreshToken(nil, stale.ID); archiveErr != nil &&
				!errors.Is(archiveErr, store.ErrRefreshTokenConsumed) {
				log.Printf("failed to archive stale refresh token: %v", archiveErr)
			}
		}
		return fail("token not rotatable")
	}

	// A revoked session must not be resurrected through the grace window
	session, err := s.store.GetSession(record.SessionID)
	if err != nil || session.IsRevoked() {
		return fail("session missing or revoked")
	}

	user, err := s.store.GetUserByID(record.UserID)
	if err != nil || user.IsArchived {
		return fail("user missing or archived")
	}
	app, err := s.store.GetEchoApp(record.EchoAppID)
	if err != nil || app.IsArchived {
		return fail("app missing or archived")
	}

	rawRefresh, replacement, err := s.newRefreshToken(
		record.UserID, record.EchoAppID, record.SessionID, record.Scopes)
	if err != nil {
		s.metrics.RecordTokenRefresh("error")
		return nil, err
	}

	tx := s.store.DB().Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()
	if record.IsArchived {
		// Grace retry: spend the archived token's single allowance so the
		// same token cannot keep minting replacements for the whole window.
		if err := s.store.MarkRefreshTokenGraceUsed(tx, record.ID); err != nil {
			tx.Rollback()
			if errors.Is(err, store.ErrRefreshTokenConsumed) {
				return fail("grace retry already used")
			}
			s.metrics.RecordTokenRefresh("error")
			return nil, fmt.Errorf("failed to spend grace retry: %w", err)
		}
	} else {
		if err := s.store.ArchiveRefreshToken(tx, record.ID); err != nil &&
			!errors.Is(err, store.ErrRefreshTokenConsumed) {
			tx.Rollback()
			s.metrics.RecordTokenRefresh("error")
			return nil, fmt.Errorf("failed to archive refresh token: %w", err)
		}
	}
	if err := tx.Create(replacement).Error; err != nil {
		tx.Rollback()
		s.metrics.RecordTokenRefresh("error")
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}
	if err := s.store.TouchSession(tx, record.SessionID, ipAddress, userAgent); err != nil {
		tx.Rollback()
		s.metrics.RecordTokenRefresh("error")
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		s.metrics.RecordTokenRefresh("error")
		return nil, fmt.Errorf("failed to commit rotation: %w", err)
	}

	accessToken, _, err := s.codec.IssueAccessToken(
		record.UserID, record.EchoAppID, record.Scopes, record.SessionID)
	if err != nil {
		s.metrics.RecordTokenRefresh("error")
		return nil, err
	}

	s.metrics.RecordTokenRefresh("success")
	return s.tokenResult(accessToken, rawRefresh, record.Scopes, record.SessionID, user, app), nil
}

// newRefreshToken builds a fresh refresh token record plus its raw form.
// Only the SHA-256 hash is ever persisted.
func (s *OAuthService) newRefreshToken(
	userID, echoAppID, sessionID, scopes string,
) (string, *models.RefreshToken, error) {
	rawBytes, err := util.CryptoRandomBytes(32)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	// Prefix makes leaked tokens greppable by secret scanners
	raw := "egr_" + base64.RawURLEncoding.EncodeToString(rawBytes)

	record := &models.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: util.SHA256Hex(raw),
		RawToken:  raw,
		UserID:    userID,
		EchoAppID: echoAppID,
		SessionID: sessionID,
		Scopes:    scopes,
		ExpiresAt: time.Now().Add(s.config.RefreshTokenExpiration),
	}
	return raw, record, nil
}

func (s *OAuthService) tokenResult(
	accessToken, refreshToken, scope, sessionID string,
	user *models.User,
	app *models.EchoApp,
) *TokenResult {
	return &TokenResult{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.config.AccessTokenExpiration.Seconds()),
		RefreshExpiresIn: int64(s.config.RefreshTokenExpiration.Seconds()),
		Scope:            scope,
		SessionID:        sessionID,
		User: UserInfo{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
		},
		App: AppInfo{
			ID:          app.ID,
			Name:        app.Name,
			Description: app.Description,
		},
	}
}

func (s *OAuthService) isValidRedirectURI(app *models.EchoApp, uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range app.RedirectURIs {
		if util.RedirectURIMatches(registered, uri) {
			return true
		}
	}
	return false
}

// verifyPKCE recomputes S256(code_verifier) and compares it to the stored
// challenge. Only S256 is supported.
func verifyPKCE(codeChallenge, codeVerifier string) bool {
	if codeVerifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(codeVerifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return computed == codeChallenge
}

func scopeIsSubset(allowedScopes, requestedScopes string) bool {
	allowed := make(map[string]bool)
	for _, sc := range strings.Fields(allowedScopes) {
		allowed[sc] = true
	}
	for _, sc := range strings.Fields(requestedScopes) {
		if !allowed[sc] {
			return false
		}
	}
	return true
}

func mergeScopes(existing, granted string) string {
	seen := make(map[string]bool)
	merged := make([]string, 0)
	for _, sc := range append(strings.Fields(existing), strings.Fields(granted)...) {
		if !seen[sc] {
			seen[sc] = true
			merged = append(merged, sc)
		}
	}
	return strings.Join(merged, " ")
}

func deviceNameFromUserAgent(userAgent string) string {
	switch {
	case userAgent == "":
		return "Unknown device"
	case strings.Contains(userAgent, "iPhone"):
		return "iPhone"
	case strings.Contains(userAgent, "Android"):
		return "Android"
	case strings.Contains(userAgent, "Macintosh"):
		return "Mac"
	case strings.Contains(userAgent, "Windows"):
		return "Windows"
	case strings.Contains(userAgent, "Linux"):
		return "Linux"
	default:
		// Fall back to the first product token
		if i := strings.IndexAny(userAgent, " /"); i > 0 {
			return userAgent[:i]
		}
		return userAgent
	}
}

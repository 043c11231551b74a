package token

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/echo-platform/echogate/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token typ claims. The typ check keeps an authorization code from being
// replayed as an access token and vice versa.
const (
	TypeAuthorizationCode = "authorization_code"
	TypeAccessToken       = "access"
)

// RFC 7636: the code challenge is 43 to 128 characters from the unreserved
// base64url alphabet.
var codeChallengeRe = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// Codec mints and verifies the stateless signed tokens of the platform:
// short-lived authorization codes and access tokens. Both are HS256 JWTs so
// verification needs no datastore lookup.
type Codec struct {
	config *config.Config
}

func NewCodec(cfg *config.Config) *Codec {
	return &Codec{config: cfg}
}

// AuthorizationCodeInput carries everything bound into an authorization code
type AuthorizationCodeInput struct {
	UserID              string
	EchoAppID           string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationCodeClaims is the verified payload of an authorization code
type AuthorizationCodeClaims struct {
	UserID        string
	EchoAppID     string
	RedirectURI   string
	Scope         string
	CodeChallenge string
	Nonce         string
	ExpiresAt     time.Time
}

// AccessTokenClaims is the verified payload of an access token
type AccessTokenClaims struct {
	UserID    string
	EchoAppID string
	Scope     string
	SessionID string
	JTI       string
	ExpiresAt time.Time
}

// IssueAuthorizationCode mints a one-time authorization code. Inputs are
// validated strictly since they arrive from the query string: IDs must be
// UUIDs, the challenge must match the RFC 7636 shape and the method must be
// exactly S256.
func (c *Codec) IssueAuthorizationCode(input AuthorizationCodeInput) (string, error) {
	if _, err := uuid.Parse(input.UserID); err != nil {
		return "", fmt.Errorf("%w: user_id is not a UUID", ErrInvalidRequest)
	}
	if _, err := uuid.Parse(input.EchoAppID); err != nil {
		return "", fmt.Errorf("%w: client_id is not a UUID", ErrInvalidRequest)
	}
	if input.RedirectURI == "" {
		return "", fmt.Errorf("%w: redirect_uri is required", ErrInvalidRequest)
	}
	if !codeChallengeRe.MatchString(input.CodeChallenge) {
		return "", fmt.Errorf("%w: malformed code_challenge", ErrInvalidRequest)
	}
	if input.CodeChallengeMethod != "S256" {
		return "", fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"typ":            TypeAuthorizationCode,
		"sub":            input.UserID,
		"aud":            input.EchoAppID,
		"redirect_uri":   input.RedirectURI,
		"scope":          input.Scope,
		"code_challenge": input.CodeChallenge,
		"nonce":          uuid.New().String(),
		"exp":            now.Add(c.config.AuthCodeExpiration).Unix(),
		"iat":            now.Unix(),
		"iss":            c.config.BaseURL,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return signed, nil
}

// VerifyAuthorizationCode checks signature, expiry and typ, and returns the
// embedded claims for the exchange step.
func (c *Codec) VerifyAuthorizationCode(code string) (*AuthorizationCodeClaims, error) {
	claims, err := c.parse(code)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != TypeAuthorizationCode {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	appID, _ := claims["aud"].(string)
	redirectURI, _ := claims["redirect_uri"].(string)
	scope, _ := claims["scope"].(string)
	challenge, _ := claims["code_challenge"].(string)
	nonce, _ := claims["nonce"].(string)

	return &AuthorizationCodeClaims{
		UserID:        userID,
		EchoAppID:     appID,
		RedirectURI:   redirectURI,
		Scope:         scope,
		CodeChallenge: challenge,
		Nonce:         nonce,
		ExpiresAt:     time.Unix(int64(exp), 0),
	}, nil
}

// IssueAccessToken mints a short-lived bearer token bound to an app audience
// and a session.
func (c *Codec) IssueAccessToken(userID, echoAppID, scope, sessionID string) (string, *AccessTokenClaims, error) {
	now := time.Now()
	expiresAt := now.Add(c.config.AccessTokenExpiration)
	jti := uuid.New().String()
	claims := jwt.MapClaims{
		"typ":        TypeAccessToken,
		"sub":        userID,
		"aud":        echoAppID,
		"scope":      scope,
		"session_id": sessionID,
		"jti":        jti,
		"exp":        expiresAt.Unix(),
		"iat":        now.Unix(),
		"iss":        c.config.BaseURL,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.config.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	return signed, &AccessTokenClaims{
		UserID:    userID,
		EchoAppID: echoAppID,
		Scope:     scope,
		SessionID: sessionID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyAccessToken checks signature, expiry and typ without touching the
// datastore. Identity freshness (archived user or app) is the caller's job.
func (c *Codec) VerifyAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != TypeAccessToken {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	appID, _ := claims["aud"].(string)
	scope, _ := claims["scope"].(string)
	sessionID, _ := claims["session_id"].(string)
	jti, _ := claims["jti"].(string)

	return &AccessTokenClaims{
		UserID:    userID,
		EchoAppID: appID,
		Scope:     scope,
		SessionID: sessionID,
		JTI:       jti,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

func (c *Codec) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(c.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package token

import (
	"strings"
	"testing"
	"time"

	"github.com/echo-platform/echogate/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec(&config.Config{
		BaseURL:               "http://localhost:8080",
		JWTSecret:             "test-secret-key-for-testing-only",
		AccessTokenExpiration: time.Hour,
		AuthCodeExpiration:    5 * time.Minute,
	})
}

func validCodeInput() AuthorizationCodeInput {
	return AuthorizationCodeInput{
		UserID:              uuid.New().String(),
		EchoAppID:           uuid.New().String(),
		RedirectURI:         "http://localhost/callback",
		Scope:               "openid profile",
		CodeChallenge:       strings.Repeat("a", 43),
		CodeChallengeMethod: "S256",
	}
}

func TestIssueAuthorizationCode(t *testing.T) {
	codec := newTestCodec()

	t.Run("round trip", func(t *testing.T) {
		input := validCodeInput()
		code, err := codec.IssueAuthorizationCode(input)
		require.NoError(t, err)

		claims, err := codec.VerifyAuthorizationCode(code)
		require.NoError(t, err)
		assert.Equal(t, input.UserID, claims.UserID)
		assert.Equal(t, input.EchoAppID, claims.EchoAppID)
		assert.Equal(t, input.RedirectURI, claims.RedirectURI)
		assert.Equal(t, input.Scope, claims.Scope)
		assert.Equal(t, input.CodeChallenge, claims.CodeChallenge)
		assert.NotEmpty(t, claims.Nonce)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt, 5*time.Second)
	})

	t.Run("two codes for the same input differ", func(t *testing.T) {
		input := validCodeInput()
		first, err := codec.IssueAuthorizationCode(input)
		require.NoError(t, err)
		second, err := codec.IssueAuthorizationCode(input)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	tests := []struct {
		name   string
		mutate func(*AuthorizationCodeInput)
	}{
		{"user_id not a UUID", func(in *AuthorizationCodeInput) { in.UserID = "alice" }},
		{"client_id not a UUID", func(in *AuthorizationCodeInput) { in.EchoAppID = "app-1" }},
		{"missing redirect_uri", func(in *AuthorizationCodeInput) { in.RedirectURI = "" }},
		{"challenge too short", func(in *AuthorizationCodeInput) {
			in.CodeChallenge = strings.Repeat("a", 42)
		}},
		{"challenge too long", func(in *AuthorizationCodeInput) {
			in.CodeChallenge = strings.Repeat("a", 129)
		}},
		{"challenge bad alphabet", func(in *AuthorizationCodeInput) {
			in.CodeChallenge = strings.Repeat("a", 42) + "+"
		}},
		{"plain method rejected", func(in *AuthorizationCodeInput) {
			in.CodeChallengeMethod = "plain"
		}},
		{"lowercase s256 rejected", func(in *AuthorizationCodeInput) {
			in.CodeChallengeMethod = "s256"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validCodeInput()
			tt.mutate(&input)
			_, err := codec.IssueAuthorizationCode(input)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestVerifyAuthorizationCode(t *testing.T) {
	codec := newTestCodec()

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := codec.VerifyAuthorizationCode("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		other := NewCodec(&config.Config{
			BaseURL:            "http://localhost:8080",
			JWTSecret:          "a-different-secret",
			AuthCodeExpiration: 5 * time.Minute,
		})
		code, err := other.IssueAuthorizationCode(validCodeInput())
		require.NoError(t, err)
		_, err = codec.VerifyAuthorizationCode(code)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired code is rejected", func(t *testing.T) {
		expired := NewCodec(&config.Config{
			BaseURL:            "http://localhost:8080",
			JWTSecret:          "test-secret-key-for-testing-only",
			AuthCodeExpiration: -time.Minute,
		})
		code, err := expired.IssueAuthorizationCode(validCodeInput())
		require.NoError(t, err)
		_, err = codec.VerifyAuthorizationCode(code)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("access token is not an authorization code", func(t *testing.T) {
		access, _, err := codec.IssueAccessToken(
			uuid.New().String(), uuid.New().String(), "openid", uuid.New().String())
		require.NoError(t, err)
		_, err = codec.VerifyAuthorizationCode(access)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAccessToken(t *testing.T) {
	codec := newTestCodec()

	t.Run("round trip", func(t *testing.T) {
		userID := uuid.New().String()
		appID := uuid.New().String()
		sessionID := uuid.New().String()

		signed, issued, err := codec.IssueAccessToken(userID, appID, "openid chat", sessionID)
		require.NoError(t, err)
		assert.NotEmpty(t, issued.JTI)

		claims, err := codec.VerifyAccessToken(signed)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, appID, claims.EchoAppID)
		assert.Equal(t, "openid chat", claims.Scope)
		assert.Equal(t, sessionID, claims.SessionID)
		assert.Equal(t, issued.JTI, claims.JTI)
	})

	t.Run("jti is unique per mint", func(t *testing.T) {
		_, first, err := codec.IssueAccessToken("u", "a", "openid", "s")
		require.NoError(t, err)
		_, second, err := codec.IssueAccessToken("u", "a", "openid", "s")
		require.NoError(t, err)
		assert.NotEqual(t, first.JTI, second.JTI)
	})

	t.Run("authorization code is not an access token", func(t *testing.T) {
		code, err := codec.IssueAuthorizationCode(validCodeInput())
		require.NoError(t, err)
		_, err = codec.VerifyAccessToken(code)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		expired := NewCodec(&config.Config{
			BaseURL:               "http://localhost:8080",
			JWTSecret:             "test-secret-key-for-testing-only",
			AccessTokenExpiration: -time.Minute,
		})
		signed, _, err := expired.IssueAccessToken("u", "a", "openid", "s")
		require.NoError(t, err)
		_, err = codec.VerifyAccessToken(signed)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})
}

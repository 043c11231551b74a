package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/token"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	SessionUserID = "user_id"

	// ContextAccessClaims is the gin context key holding the verified
	// access token claims set by RequireAccessToken.
	ContextAccessClaims = "access_claims"
)

// RequireAuth is a middleware that requires the user to be logged in
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(SessionUserID)

		if userID == nil {
			// Redirect to login with return URL
			redirectURL := url.QueryEscape(c.Request.URL.String())
			c.Redirect(http.StatusFound, "/login?redirect="+redirectURL)
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// RequireAccessToken authenticates API requests with a bearer access token.
// The credential is taken from the Authorization header or, for clients that
// cannot set it, the x-api-key header. Verification is purely local (JWT
// signature and expiry); no datastore is touched.
func RequireAccessToken(codec *token.Codec, recorder metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearerToken(c)
		if raw == "" {
			unauthorized(c, "missing access token")
			return
		}

		claims, err := codec.VerifyAccessToken(raw)
		if err != nil {
			if errors.Is(err, token.ErrExpiredToken) {
				recorder.RecordTokenValidation("expired")
				unauthorized(c, "access token expired")
				return
			}
			recorder.RecordTokenValidation("invalid")
			unauthorized(c, "invalid access token")
			return
		}

		recorder.RecordTokenValidation("valid")
		c.Set(ContextAccessClaims, claims)
		c.Next()
	}
}

// GetAccessClaims returns the verified claims stored by RequireAccessToken
func GetAccessClaims(c *gin.Context) (*token.AccessTokenClaims, bool) {
	v, exists := c.Get(ContextAccessClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*token.AccessTokenClaims)
	return claims, ok
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.GetHeader("x-api-key")
}

func unauthorized(c *gin.Context, description string) {
	c.Header("WWW-Authenticate", `Bearer realm="EchoGate"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": description,
	})
}

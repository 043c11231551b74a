package handlers

import (
	"errors"
	"net/http"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1
	GrantTypeAuthorizationCode = "authorization_code"
	// https://datatracker.ietf.org/doc/html/rfc6749#section-6
	GrantTypeRefreshToken = "refresh_token"
)

// TokenHandler serves the OAuth 2.0 token endpoint
type TokenHandler struct {
	oauthService *services.OAuthService
	config       *config.Config
}

func NewTokenHandler(os *services.OAuthService, cfg *config.Config) *TokenHandler {
	return &TokenHandler{
		oauthService: os,
		config:       cfg,
	}
}

// Token godoc
//
//	@Summary		Request access token
//	@Description	Exchange an authorization code or refresh token for access and refresh tokens (RFC 6749)
//	@Tags			OAuth
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string	true	"Grant type: 'authorization_code' or 'refresh_token'"
//	@Param			code			formData	string	false	"Authorization code (authorization_code grant)"
//	@Param			client_id		formData	string	false	"Application ID (authorization_code grant)"
//	@Param			redirect_uri	formData	string	false	"Redirect URI used on the authorize request"
//	@Param			code_verifier	formData	string	false	"PKCE code verifier"
//	@Param			refresh_token	formData	string	false	"Refresh token (refresh_token grant)"
//	@Success		200				{object}	object{access_token=string,refresh_token=string,token_type=string,expires_in=int,refresh_token_expires_in=int,scope=string,user=object,echo_app=object}	"Tokens issued"
//	@Failure		400				{object}	object{error=string,error_description=string}	"invalid_request, invalid_grant or unsupported_grant_type"
//	@Failure		500				{object}	object{error=string,error_description=string}	"server_error"
//	@Router			/oauth/token [post]
func (h *TokenHandler) Token(c *gin.Context) {
	switch c.PostForm("grant_type") {
	case GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(c)
	case GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported_grant_type",
			"error_description": "Supported grant types: authorization_code, refresh_token",
		})
	}
}

func (h *TokenHandler) handleAuthorizationCodeGrant(c *gin.Context) {
	input := services.ExchangeInput{
		Code:         c.PostForm("code"),
		ClientID:     c.PostForm("client_id"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	}

	if input.Code == "" || input.ClientID == "" || input.RedirectURI == "" ||
		input.CodeVerifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "code, client_id, redirect_uri and code_verifier are required",
		})
		return
	}

	result, err := h.oauthService.ExchangeCode(c.Request.Context(), input)
	if err != nil {
		h.grantError(c, err)
		return
	}

	h.writeTokenResult(c, result)
}

func (h *TokenHandler) handleRefreshTokenGrant(c *gin.Context) {
	rawToken := c.PostForm("refresh_token")
	if rawToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "refresh_token is required",
		})
		return
	}

	result, err := h.oauthService.Refresh(
		c.Request.Context(),
		rawToken,
		c.ClientIP(),
		c.Request.UserAgent(),
	)
	if err != nil {
		h.grantError(c, err)
		return
	}

	h.writeTokenResult(c, result)
}

// grantError maps service sentinels to RFC 6749 token endpoint errors.
// Every grant rejection surfaces as invalid_grant; the concrete reason is
// only in the server log.
func (h *TokenHandler) grantError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidGrant):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_grant",
			"error_description": "The provided grant is invalid, expired or revoked",
		})
	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Token request failed",
		})
	}
}

func (h *TokenHandler) writeTokenResult(c *gin.Context, result *services.TokenResult) {
	c.JSON(http.StatusOK, gin.H{
		"access_token":             result.AccessToken,
		"refresh_token":            result.RefreshToken,
		"token_type":               result.TokenType,
		"expires_in":               result.ExpiresIn,
		"refresh_token_expires_in": result.RefreshExpiresIn,
		"scope":                    result.Scope,
		"session_id":               result.SessionID,
		"user":                     result.User,
		"echo_app":                 result.App,
	})
}

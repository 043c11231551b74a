package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/services"

	"github.com/gin-gonic/gin"
)

const maxStateLength = 512

// AuthorizeHandler serves the OAuth 2.0 authorization endpoint: request
// validation, the consent page, and authorization code issuance.
type AuthorizeHandler struct {
	oauthService *services.OAuthService
	userService  *services.UserService
	config       *config.Config
}

func NewAuthorizeHandler(
	os *services.OAuthService,
	us *services.UserService,
	cfg *config.Config,
) *AuthorizeHandler {
	return &AuthorizeHandler{
		oauthService: os,
		userService:  us,
		config:       cfg,
	}
}

// ShowAuthorizePage validates the authorization request and renders the
// consent page (GET /oauth/authorize). Requires a logged-in browser session.
//
//	@Summary		Start an authorization request
//	@Description	Validates the OAuth 2.0 authorization request and renders the consent page, or redirects with a code when consent is remembered
//	@Tags			OAuth
//	@Produce		html
//	@Param			client_id				query	string	true	"Application ID"
//	@Param			redirect_uri			query	string	true	"Registered redirect URI"
//	@Param			response_type			query	string	true	"Must be 'code'"
//	@Param			scope					query	string	false	"Requested scopes (space separated)"
//	@Param			state					query	string	false	"Opaque client state"
//	@Param			code_challenge			query	string	true	"PKCE code challenge"
//	@Param			code_challenge_method	query	string	true	"Must be 'S256'"
//	@Param			prompt					query	string	false	"Set to 'none' for silent authorization"
//	@Router			/oauth/authorize [get]
func (h *AuthorizeHandler) ShowAuthorizePage(c *gin.Context) {
	req := services.AuthorizeRequest{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		Prompt:              c.Query("prompt"),
	}

	if len(req.State) > maxStateLength {
		h.renderError(c, "invalid_request", "state parameter exceeds maximum length")
		return
	}

	validated, err := h.oauthService.ValidateAuthorizeRequest(req)
	if err != nil {
		h.authorizeError(c, req, err)
		return
	}

	userID := c.GetString("user_id")
	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	hasConsent := h.oauthService.HasConsent(userID, validated.App, validated.Scope)

	// Silent authorization never shows UI: either consent already covers
	// the request or the client gets consent_required.
	if req.Prompt == "none" {
		if h.config.SilentAuthEnabled && hasConsent {
			h.issueCodeAndRedirect(c, userID, validated)
			return
		}
		h.redirectWithError(c, validated.RedirectURI, validated.State,
			"consent_required", "silent authorization is not available")
		return
	}

	if h.config.ConsentRemember && hasConsent {
		h.issueCodeAndRedirect(c, userID, validated)
		return
	}

	c.HTML(http.StatusOK, "consent.html", gin.H{
		"csrf_token":            middleware.GetCSRFToken(c),
		"user_name":             user.Name,
		"app_name":              validated.App.Name,
		"app_description":       validated.App.Description,
		"client_id":             validated.App.ID,
		"redirect_uri":          validated.RedirectURI,
		"scope":                 validated.Scope,
		"scope_list":            strings.Fields(validated.Scope),
		"state":                 validated.State,
		"code_challenge":        validated.CodeChallenge,
		"code_challenge_method": validated.CodeChallengeMethod,
	})
}

// HandleAuthorize processes the consent decision (POST /oauth/authorize)
func (h *AuthorizeHandler) HandleAuthorize(c *gin.Context) {
	req := services.AuthorizeRequest{
		ClientID:            c.PostForm("client_id"),
		RedirectURI:         c.PostForm("redirect_uri"),
		ResponseType:        "code",
		Scope:               c.PostForm("scope"),
		State:               c.PostForm("state"),
		CodeChallenge:       c.PostForm("code_challenge"),
		CodeChallengeMethod: c.PostForm("code_challenge_method"),
	}

	if len(req.State) > maxStateLength {
		h.renderError(c, "invalid_request", "state parameter exceeds maximum length")
		return
	}

	// Re-validate on POST so hidden-field tampering cannot widen the grant
	validated, err := h.oauthService.ValidateAuthorizeRequest(req)
	if err != nil {
		h.authorizeError(c, req, err)
		return
	}

	if c.PostForm("action") != "approve" {
		h.redirectWithError(c, validated.RedirectURI, validated.State,
			"access_denied", "user denied the authorization request")
		return
	}

	userID := c.GetString("user_id")
	if err := h.oauthService.GrantConsent(userID, validated.App, validated.Scope); err != nil {
		h.redirectWithError(c, validated.RedirectURI, validated.State,
			"server_error", "failed to save authorization")
		return
	}

	h.issueCodeAndRedirect(c, userID, validated)
}

// issueCodeAndRedirect mints the authorization code and sends the browser
// back to the application
func (h *AuthorizeHandler) issueCodeAndRedirect(
	c *gin.Context,
	userID string,
	validated *services.ValidatedAuthorizeRequest,
) {
	code, err := h.oauthService.IssueCode(userID, validated)
	if err != nil {
		h.redirectWithError(c, validated.RedirectURI, validated.State,
			"server_error", "failed to generate authorization code")
		return
	}

	u, err := url.Parse(validated.RedirectURI)
	if err != nil {
		h.renderError(c, "server_error", "invalid redirect_uri")
		return
	}
	q := u.Query()
	q.Set("code", code)
	if validated.State != "" {
		q.Set("state", validated.State)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// authorizeError routes a validation failure either back to the client or
// to a local error page. Errors raised before the redirect URI was checked
// must never turn into a redirect.
func (h *AuthorizeHandler) authorizeError(c *gin.Context, req services.AuthorizeRequest, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorizedClient),
		errors.Is(err, services.ErrInvalidRedirectURI),
		errors.Is(err, services.ErrUnsupportedResponseType):
		h.renderError(c, oauthErrorCode(err), err.Error())
	default:
		// Scope and PKCE checks run after the redirect URI is validated.
		h.redirectWithError(c, req.RedirectURI, req.State, oauthErrorCode(err), err.Error())
	}
}

func (h *AuthorizeHandler) redirectWithError(
	c *gin.Context,
	redirectURI, state, errorCode, description string,
) {
	u, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		h.renderError(c, errorCode, description)
		return
	}
	q := u.Query()
	q.Set("error", errorCode)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

func (h *AuthorizeHandler) renderError(c *gin.Context, errorCode, message string) {
	c.HTML(http.StatusBadRequest, "error.html", gin.H{
		"error":   errorCode,
		"message": message,
	})
}

// oauthErrorCode maps service sentinels to RFC 6749 error codes
func oauthErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrUnsupportedResponseType):
		return "unsupported_response_type"
	case errors.Is(err, services.ErrUnauthorizedClient):
		return "unauthorized_client"
	case errors.Is(err, services.ErrInvalidRedirectURI):
		return "invalid_request"
	case errors.Is(err, services.ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, services.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "server_error"
	}
}

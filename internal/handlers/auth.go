package handlers

import (
	"net/http"

	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/services"
	"github.com/echo-platform/echogate/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves the browser login flow backing the authorize endpoint
type AuthHandler struct {
	userService *services.UserService
	metrics     loginRecorder
	baseURL     string
}

type loginRecorder interface {
	RecordLogin(success bool)
	RecordLogout()
}

func NewAuthHandler(us *services.UserService, recorder loginRecorder, baseURL string) *AuthHandler {
	return &AuthHandler{
		userService: us,
		metrics:     recorder,
		baseURL:     baseURL,
	}
}

// LoginPage renders the login page (GET /login)
func (h *AuthHandler) LoginPage(c *gin.Context) {
	session := sessions.Default(c)
	if session.Get(middleware.SessionUserID) != nil {
		c.Redirect(http.StatusFound, "/account/sessions")
		return
	}

	redirectTo := c.Query("redirect")
	if !util.IsRedirectSafe(redirectTo, h.baseURL) {
		redirectTo = ""
	}

	c.HTML(http.StatusOK, "login.html", gin.H{
		"csrf_token": middleware.GetCSRFToken(c),
		"redirect":   redirectTo,
		"error":      c.Query("error"),
	})
}

// Login handles the login form submission (POST /login)
func (h *AuthHandler) Login(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	redirectTo := c.PostForm("redirect")

	if !util.IsRedirectSafe(redirectTo, h.baseURL) {
		redirectTo = ""
	}

	user, err := h.userService.Authenticate(email, password)
	if err != nil {
		h.metrics.RecordLogin(false)
		c.HTML(http.StatusUnauthorized, "login.html", gin.H{
			"csrf_token": middleware.GetCSRFToken(c),
			"redirect":   redirectTo,
			"error":      "Invalid email or password",
		})
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionUserID, user.ID)
	if err := session.Save(); err != nil {
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{
			"csrf_token": middleware.GetCSRFToken(c),
			"error":      "Failed to create session",
		})
		return
	}

	h.metrics.RecordLogin(true)
	if redirectTo != "" {
		c.Redirect(http.StatusFound, redirectTo)
	} else {
		c.Redirect(http.StatusFound, "/account/sessions")
	}
}

// Logout clears the browser session and redirects to login
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}
	h.metrics.RecordLogout()
	c.Redirect(http.StatusFound, "/login")
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/services"

	"github.com/gin-gonic/gin"
)

// SessionHandler serves the account session management pages
type SessionHandler struct {
	sessionService *services.SessionService
	userService    *services.UserService
}

func NewSessionHandler(ss *services.SessionService, us *services.UserService) *SessionHandler {
	return &SessionHandler{
		sessionService: ss,
		userService:    us,
	}
}

// ListSessions shows the user's active sessions (GET /account/sessions)
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID := c.GetString("user_id")

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"error":   "server_error",
			"message": "Failed to retrieve user information",
		})
		return
	}

	sessions, err := h.sessionService.List(userID)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"error":   "server_error",
			"message": "Failed to retrieve sessions",
		})
		return
	}

	c.HTML(http.StatusOK, "sessions.html", gin.H{
		"csrf_token": middleware.GetCSRFToken(c),
		"user_name":  user.Name,
		"sessions":   sessions,
	})
}

// RevokeSession revokes one of the user's sessions along with its refresh
// tokens (POST /account/sessions/:id/revoke)
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	userID := c.GetString("user_id")
	sessionID := c.Param("id")

	if err := h.sessionService.Revoke(c.Request.Context(), sessionID, userID); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			c.HTML(http.StatusNotFound, "error.html", gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"error":   "server_error",
			"message": "Failed to revoke session",
		})
		return
	}

	c.Redirect(http.StatusFound, "/account/sessions")
}

// RevokeAllSessions revokes every active session of the user
// (POST /account/sessions/revoke-all)
func (h *SessionHandler) RevokeAllSessions(c *gin.Context) {
	userID := c.GetString("user_id")

	if _, err := h.sessionService.RevokeAll(c.Request.Context(), userID); err != nil {
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{
			"error":   "server_error",
			"message": "Failed to revoke sessions",
		})
		return
	}

	c.Redirect(http.StatusFound, "/account/sessions")
}

package bootstrap

import (
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/handlers"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/services"
)

// handlerSet groups all HTTP handlers
type handlerSet struct {
	Auth      *handlers.AuthHandler
	Authorize *handlers.AuthorizeHandler
	Token     *handlers.TokenHandler
	Session   *handlers.SessionHandler
}

func initializeHandlers(
	cfg *config.Config,
	userService *services.UserService,
	oauthService *services.OAuthService,
	sessionService *services.SessionService,
	recorder metrics.Recorder,
) handlerSet {
	return handlerSet{
		Auth:      handlers.NewAuthHandler(userService, recorder, cfg.BaseURL),
		Authorize: handlers.NewAuthorizeHandler(oauthService, userService, cfg),
		Token:     handlers.NewTokenHandler(oauthService, cfg),
		Session:   handlers.NewSessionHandler(sessionService, userService),
	}
}

package bootstrap

import (
	"log"
	"net/http"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/proxy"
	"github.com/echo-platform/echogate/internal/store"
	"github.com/echo-platform/echogate/internal/templates"
	"github.com/echo-platform/echogate/internal/token"
	"github.com/echo-platform/echogate/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

var ginModeMap = map[bool]string{
	true:  gin.ReleaseMode,
	false: gin.DebugMode,
}

func setupRouter(
	cfg *config.Config,
	db *store.Store,
	codec *token.Codec,
	h handlerSet,
	p *proxy.Proxy,
	recorder metrics.Recorder,
) *gin.Engine {
	setupGinMode(cfg)

	r := gin.New()
	// Metrics middleware first so it observes every request, including
	// those rejected by later middleware
	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(util.IPMiddleware())

	r.SetHTMLTemplate(templates.Load())

	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("echogate_session", sessionStore))

	rateLimits := setupRateLimiting(cfg)

	r.GET("/health", func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupMetricsEndpoint(r, cfg)

	if !cfg.IsProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Login and browser session
	r.GET("/login", h.Auth.LoginPage)
	r.POST("/login", rateLimits.login, h.Auth.Login)
	r.GET("/logout", h.Auth.Logout)

	// Authorization endpoint requires a logged-in resource owner. The CSRF
	// middleware runs on GET as well so the consent form gets its token.
	authorizeGroup := r.Group("/oauth", middleware.RequireAuth(), middleware.CSRFMiddleware())
	{
		authorizeGroup.GET("/authorize", h.Authorize.ShowAuthorizePage)
		authorizeGroup.POST("/authorize", h.Authorize.HandleAuthorize)
	}

	// Token endpoint is for OAuth clients, not browsers. No session, no CSRF.
	r.POST("/oauth/token", rateLimits.token, h.Token.Token)

	accountGroup := r.Group("/account", middleware.RequireAuth(), middleware.CSRFMiddleware())
	{
		accountGroup.GET("/sessions", h.Session.ListSessions)
		accountGroup.POST("/sessions/:id/revoke", h.Session.RevokeSession)
		accountGroup.POST("/sessions/revoke-all", h.Session.RevokeAllSessions)
	}

	// Metered proxy routes, bearer token only
	apiGroup := r.Group("/v1", middleware.RequireAccessToken(codec, recorder), rateLimits.proxy)
	{
		apiGroup.POST("/chat/completions", p.Completion("openai"))
		apiGroup.POST("/messages", p.Completion("anthropic"))
		apiGroup.GET("/models", p.Models())
	}

	return r
}

func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	if !cfg.MetricsEnabled {
		return
	}

	switch {
	case cfg.MetricsToken != "":
		r.GET("/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	case cfg.IsProduction:
		log.Println("WARNING: metrics endpoint enabled without METRICS_TOKEN in production")
		fallthrough
	default:
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

func setupGinMode(cfg *config.Config) {
	gin.SetMode(ginModeMap[cfg.IsProduction])
}

func logProviderStatus(providers map[string]*proxy.Provider) {
	if len(providers) == 0 {
		log.Println("WARNING: no upstream providers configured, proxy routes will return 503")
		return
	}
	for name := range providers {
		log.Printf("Upstream provider configured: %s", name)
	}
}

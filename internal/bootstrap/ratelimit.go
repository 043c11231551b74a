package bootstrap

import (
	"log"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/middleware"

	"github.com/gin-gonic/gin"
)

// rateLimitMiddlewares holds the per-endpoint rate limiters
type rateLimitMiddlewares struct {
	login gin.HandlerFunc
	token gin.HandlerFunc
	proxy gin.HandlerFunc
}

func setupRateLimiting(cfg *config.Config) rateLimitMiddlewares {
	if !cfg.EnableRateLimit {
		noOp := func(c *gin.Context) { c.Next() }
		return rateLimitMiddlewares{login: noOp, token: noOp, proxy: noOp}
	}

	createLimiter := func(name string, requestsPerMinute int) gin.HandlerFunc {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			CleanupInterval:   cfg.RateLimitCleanup,
			StoreType:         middleware.RateLimitStoreType(cfg.RateLimitStore),
			RedisAddr:         cfg.RedisAddr,
			RedisPassword:     cfg.RedisPassword,
			RedisDB:           cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("Failed to create %s rate limiter: %v", name, err)
		}
		return limiter
	}

	return rateLimitMiddlewares{
		login: createLimiter("login", cfg.LoginRateLimit),
		token: createLimiter("token", cfg.TokenRateLimit),
		proxy: createLimiter("proxy", cfg.ProxyRateLimit),
	}
}

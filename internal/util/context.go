package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

// IPMiddleware extracts the client IP and stores it in the context so that
// session bookkeeping can record it without reaching back into the request.
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() handles X-Forwarded-For and other headers
		c.Set("client_ip", c.ClientIP())
		c.Next()
	}
}

// GetIPFromContext extracts the client IP address from the context
func GetIPFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		return ginCtx.ClientIP()
	}
	if ip, ok := ctx.Value("client_ip").(string); ok {
		return ip
	}
	return ""
}

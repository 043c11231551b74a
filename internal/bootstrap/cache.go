package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/echo-platform/echogate/internal/cache"
	"github.com/echo-platform/echogate/internal/config"
)

// initializeGaugeCache creates the cache used by the gauge update job.
// Falls back to the in-memory cache when Redis is unavailable, so metrics
// degrade rather than block startup.
func initializeGaugeCache(cfg *config.Config) cache.Cache[int64] {
	switch cfg.IdentityCacheType {
	case config.CacheTypeRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := cache.NewRueidisCache[int64](
			ctx,
			cfg.RedisAddr,
			cfg.RedisPassword,
			cfg.RedisDB,
			"gauge",
		)
		if err != nil {
			log.Printf("Redis gauge cache unavailable, using memory: %v", err)
			return cache.NewMemoryCache[int64]()
		}
		return c
	case config.CacheTypeRedisAside:
		c, err := cache.NewRueidisAsideCache(
			cfg.RedisAddr,
			cfg.RedisPassword,
			cfg.RedisDB,
			"gauge",
			time.Minute,
		)
		if err != nil {
			log.Printf("Redis gauge cache unavailable, using memory: %v", err)
			return cache.NewMemoryCache[int64]()
		}
		return c
	default:
		return cache.NewMemoryCache[int64]()
	}
}

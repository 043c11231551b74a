package metrics

import (
	"context"
	"time"

	"github.com/echo-platform/echogate/internal/cache"
	"github.com/echo-platform/echogate/internal/store"
)

// gaugeStore defines the database counts needed by CacheWrapper.
// The interface keeps tests away from a full store.Store.
type gaugeStore interface {
	CountActiveSessions() (int64, error)
	CountActiveRefreshTokens() (int64, error)
}

// CacheWrapper provides a read-through cache for the periodic gauge update
// job, so frequent scrapes do not hammer the database with COUNT queries.
type CacheWrapper struct {
	store gaugeStore
	cache cache.Cache[int64]
}

// NewCacheWrapper creates a new cache wrapper for gauge counts.
func NewCacheWrapper(store *store.Store, cache cache.Cache[int64]) *CacheWrapper {
	return &CacheWrapper{
		store: store,
		cache: cache,
	}
}

// GetActiveSessionsCount retrieves the count of active sessions.
func (m *CacheWrapper) GetActiveSessionsCount(
	ctx context.Context,
	ttl time.Duration,
) (int64, error) {
	return m.getCountWithCache(ctx, "sessions:active", ttl, m.store.CountActiveSessions)
}

// GetActiveRefreshTokensCount retrieves the count of active refresh tokens.
func (m *CacheWrapper) GetActiveRefreshTokensCount(
	ctx context.Context,
	ttl time.Duration,
) (int64, error) {
	return m.getCountWithCache(ctx, "refresh_tokens:active", ttl, m.store.CountActiveRefreshTokens)
}

// getCountWithCache retrieves a count using the cache-aside pattern,
// preferring the backend's own fetch support when available.
func (m *CacheWrapper) getCountWithCache(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFunc func() (int64, error),
) (int64, error) {
	fetch := func(ctx context.Context, key string) (int64, error) {
		return fetchFunc()
	}
	if c, ok := m.cache.(cache.CacheWithFetch[int64]); ok {
		return c.GetWithFetch(ctx, key, ttl, fetch)
	}
	return cache.GetWithFetch(ctx, m.cache, key, ttl, fetch)
}

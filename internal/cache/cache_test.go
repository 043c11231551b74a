package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("get and set", func(t *testing.T) {
		c := NewMemoryCache[string]()
		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		c := NewMemoryCache[string]()
		_, err := c.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("expired key is a miss", func(t *testing.T) {
		c := NewMemoryCache[int64]()
		require.NoError(t, c.Set(ctx, "k", 42, -time.Second))

		_, err := c.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("delete", func(t *testing.T) {
		c := NewMemoryCache[string]()
		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		require.NoError(t, c.Delete(ctx, "k"))

		_, err := c.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("struct values", func(t *testing.T) {
		type identity struct {
			UserID string
			AppID  string
		}
		c := NewMemoryCache[identity]()
		require.NoError(t, c.Set(ctx, "id", identity{UserID: "u", AppID: "a"}, time.Minute))

		got, err := c.Get(ctx, "id")
		require.NoError(t, err)
		assert.Equal(t, "u", got.UserID)
		assert.Equal(t, "a", got.AppID)
	})
}

func TestGetWithFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches on miss and caches", func(t *testing.T) {
		c := NewMemoryCache[int64]()
		calls := 0
		fetch := func(ctx context.Context, key string) (int64, error) {
			calls++
			return 7, nil
		}

		got, err := GetWithFetch[int64](ctx, c, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got)
		assert.Equal(t, 1, calls)

		// Second read is served from cache
		got, err = GetWithFetch[int64](ctx, c, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got)
		assert.Equal(t, 1, calls)
	})

	t.Run("fetch error is not cached", func(t *testing.T) {
		c := NewMemoryCache[int64]()
		wantErr := errors.New("boom")
		fetch := func(ctx context.Context, key string) (int64, error) {
			return 0, wantErr
		}

		_, err := GetWithFetch[int64](ctx, c, "k", time.Minute, fetch)
		assert.ErrorIs(t, err, wantErr)

		_, err = c.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})
}

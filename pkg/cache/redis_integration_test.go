//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/pkg/cache"
	"github.com/dmitrymomot/provisioner/pkg/redis"
)

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	ctx := context.Background()
	client, err := redis.Open(ctx, redis.Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	type link struct {
		Target string `json:"target"`
	}
	c := cache.NewRedis[link](client, "test-links", time.Minute, nil)

	_, err = c.Get(ctx, "abc")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, c.Set(ctx, "abc", link{Target: "https://example.com"}, 0))
	v, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", v.Target)

	require.NoError(t, c.Delete(ctx, "abc"))
	_, err = c.Get(ctx, "abc")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

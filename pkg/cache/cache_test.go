package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/pkg/cache"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		_, err := c.Get(ctx, "missing")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("stores and deletes", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[int]()
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", 42, time.Minute))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 42, v)

		require.NoError(t, c.Delete(ctx, "k"))
		_, err = c.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string](cache.WithSweepInterval(0))
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, err := c.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("negative ttl never expires", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string](cache.WithDefaultTTL(time.Millisecond), cache.WithSweepInterval(0))
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", "v", -1))
		time.Sleep(5 * time.Millisecond)

		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[int](cache.WithMaxEntries(2))
		defer c.Close()

		require.NoError(t, c.Set(ctx, "a", 1, 0))
		require.NoError(t, c.Set(ctx, "b", 2, 0))
		_, err := c.Get(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, c.Set(ctx, "c", 3, 0))

		_, err = c.Get(ctx, "b")
		require.ErrorIs(t, err, cache.ErrNotFound)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("closed cache rejects writes", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[int]()
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		require.ErrorIs(t, c.Set(ctx, "k", 1, 0), cache.ErrClosed)
	})
}

func TestGetOrSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("loads once under concurrency", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		var calls atomic.Int32
		release := make(chan struct{})

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := cache.GetOrSet(ctx, c, "k", func(context.Context) (string, time.Duration, error) {
					calls.Add(1)
					<-release
					return "v", time.Minute, nil
				})
				assert.NoError(t, err)
				assert.Equal(t, "v", v)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.LessOrEqual(t, calls.Load(), int32(2))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()

		c := cache.NewMemory[string]()
		defer c.Close()

		boom := errors.New("boom")
		_, err := cache.GetOrSet(ctx, c, "k", func(context.Context) (string, time.Duration, error) {
			return "", 0, boom
		})
		require.ErrorIs(t, err, boom)

		_, err = c.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("separate caches do not share loads", func(t *testing.T) {
		t.Parallel()

		a := cache.NewMemory[string]()
		b := cache.NewMemory[string]()
		defer a.Close()
		defer b.Close()

		va, err := cache.GetOrSet(ctx, a, "k", func(context.Context) (string, time.Duration, error) { return "a", 0, nil })
		require.NoError(t, err)
		vb, err := cache.GetOrSet(ctx, b, "k", func(context.Context) (string, time.Duration, error) { return "b", 0, nil })
		require.NoError(t, err)
		assert.Equal(t, "a", va)
		assert.Equal(t, "b", vb)
	})
}

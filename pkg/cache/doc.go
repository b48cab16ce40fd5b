// Package cache provides a small generic TTL cache with two backends:
// an in-process LRU (Memory) and Redis (Redis).
//
// The provisioning service uses it for short-link resolution: the redirect
// path reads through GetOrSet and writers invalidate with Delete.
//
//	links := cache.NewMemory[Link](cache.WithDefaultTTL(time.Minute), cache.WithMaxEntries(10_000))
//	link, err := cache.GetOrSet(ctx, links, slug, func(ctx context.Context) (Link, time.Duration, error) {
//		l, err := store.FindBySlug(ctx, slug)
//		return l, 0, err
//	})
//
// TTL passed to Set: positive expires after the duration, zero uses the
// backend default, negative never expires.
package cache

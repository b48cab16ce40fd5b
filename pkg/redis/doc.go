// Package redis opens the go-redis client used for the short-link resolution
// cache and exposes a readiness check for it.
//
//	client, err := redis.Open(ctx, redis.Config{URL: os.Getenv("REDIS_URL")})
//	health.Check("redis", redis.Healthcheck(client))
//
// Open retries the initial PING with a linear backoff so the service can
// start alongside its Redis instance.
package redis

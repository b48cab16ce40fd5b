package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache stored in Redis under "<prefix>:<key>".
type Redis[V any] struct {
	client     redis.UniversalClient
	codec      Codec[V]
	prefix     string
	defaultTTL time.Duration
}

// NewRedis creates a Redis-backed cache. A nil codec means JSON.
// The client lifecycle stays with the caller (see pkg/redis).
func NewRedis[V any](client redis.UniversalClient, prefix string, defaultTTL time.Duration, codec Codec[V]) *Redis[V] {
	if codec == nil {
		codec = JSON[V]{}
	}
	if defaultTTL == 0 {
		defaultTTL = time.Minute
	}
	return &Redis[V]{client: client, codec: codec, prefix: prefix, defaultTTL: defaultTTL}
}

func (r *Redis[V]) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return r.codec.Decode(data)
}

// Set stores value. A negative ttl maps to no expiry in Redis.
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := r.codec.Encode(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	return r.client.Set(ctx, r.key(key), data, max(ttl, 0)).Err()
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close is a no-op; the client is owned by the caller.
func (r *Redis[V]) Close() error { return nil }

var _ Cache[any] = (*Redis[any])(nil)

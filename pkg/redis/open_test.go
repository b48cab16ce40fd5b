package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"empty", "", ErrEmptyConnectionURL},
		{"http scheme", "http://localhost:6379", ErrFailedToParseURL},
		{"no scheme", "localhost:6379", ErrFailedToParseURL},
		{"bad database", "redis://localhost:6379/notanumber", ErrFailedToParseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Config{URL: tt.url}.options()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("applies overrides", func(t *testing.T) {
		t.Parallel()

		opts, err := Config{URL: "rediss://:secret@cache.internal:6380/2", PoolSize: 25, DialTimeout: time.Second}.options()
		require.NoError(t, err)
		assert.Equal(t, "cache.internal:6380", opts.Addr)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 25, opts.PoolSize)
		assert.Equal(t, time.Second, opts.DialTimeout)
		assert.NotNil(t, opts.TLSConfig)
	})
}

func TestOpenHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Config{URL: "redis://127.0.0.1:1/0", RetryAttempts: 3, RetryInterval: time.Hour, DialTimeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrConnectionFailed)
}

func TestHealthcheckNilClient(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Healthcheck(nil)(context.Background()), ErrHealthcheckFailed)
}

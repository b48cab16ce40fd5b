package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/config"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DNS_PROVIDER", "memory")
	t.Setenv("DNS_ZONE_NAME", "short.example")
}

func TestParseDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "_verify", cfg.DNS.VerifyPrefix)
	assert.Equal(t, 5*time.Second, cfg.DNS.Timeout)
	assert.Equal(t, 3, cfg.DNS.ProviderRetries)
	assert.Equal(t, "@every 6h", cfg.AuditSchedule)
	assert.Equal(t, []string{"short.example"}, cfg.SystemZones())
}

func TestValidate(t *testing.T) {
	t.Run("cloudflare needs credentials and zone id", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("DNS_PROVIDER", "cloudflare")

		_, err := config.Parse()
		require.ErrorIs(t, err, config.ErrInvalid)
		assert.Contains(t, err.Error(), "CLOUDFLARE_API_TOKEN")
		assert.Contains(t, err.Error(), "DNS_ZONE_ID")
	})

	t.Run("unknown driver", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("DATABASE_DRIVER", "mysql")

		_, err := config.Parse()
		require.ErrorIs(t, err, config.ErrInvalid)
	})

	t.Run("bad outbound ip", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("MAIL_OUTBOUND_IP", "nope")

		_, err := config.Parse()
		require.ErrorIs(t, err, config.ErrInvalid)
	})
}

func TestLoadDotEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("HTTP_ADDR") })

	cfg, err := config.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
}

func TestLogValueRedactsSecrets(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CLOUDFLARE_API_TOKEN", "cf-token-value")

	cfg, err := config.Parse()
	require.NoError(t, err)

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", slog.Any("config", cfg))

	out := buf.String()
	assert.Contains(t, out, "short.example")
	assert.NotContains(t, out, "cf-token-value")
	assert.NotContains(t, out, "s3cret")
}

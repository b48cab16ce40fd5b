package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("emits context attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.Config{Level: "debug"}, &buf, logger.ContextAttrs)

		ctx := logger.WithAttrs(context.Background(), slog.String("request_id", "r-1"))
		ctx = logger.WithAttrs(ctx, slog.String("user_id", "u-1"))
		log.DebugContext(ctx, "hello", slog.Int("n", 1))

		m := decode(t, &buf)
		assert.Equal(t, "hello", m["msg"])
		assert.Equal(t, "r-1", m["request_id"])
		assert.Equal(t, "u-1", m["user_id"])
		assert.EqualValues(t, 1, m["n"])
	})

	t.Run("respects level", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.Config{Level: "warn"}, &buf)
		log.Info("dropped")
		assert.Zero(t, buf.Len())
	})

	t.Run("custom extractor", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		ex := func(context.Context) (slog.Attr, bool) { return slog.String("svc", "provisioner"), true }
		log := logger.New(logger.Config{}, &buf, nil, ex)
		log.With(slog.String("component", "api")).Info("x")

		m := decode(t, &buf)
		assert.Equal(t, "provisioner", m["svc"])
		assert.Equal(t, "api", m["component"])
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("loud"))
}

func TestNewNope(t *testing.T) {
	t.Parallel()

	log := logger.NewNope()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}

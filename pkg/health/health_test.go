package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/pkg/health"
)

func TestReadiness(t *testing.T) {
	t.Parallel()

	t.Run("all healthy", func(t *testing.T) {
		t.Parallel()

		c := health.New(time.Second, nil).
			Add("db", func(context.Context) error { return nil }).
			Add("redis", func(context.Context) error { return nil })

		rec := httptest.NewRecorder()
		c.Readiness().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var rep health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, health.StatusHealthy, rep.Status)
		assert.Len(t, rep.Checks, 2)
	})

	t.Run("one failure makes it unavailable", func(t *testing.T) {
		t.Parallel()

		c := health.New(time.Second, nil).
			Add("db", func(context.Context) error { return nil }).
			Add("jobs", func(context.Context) error { return errors.New("down") })

		rec := httptest.NewRecorder()
		c.Readiness().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var rep health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		assert.Equal(t, health.StatusUnhealthy, rep.Checks["jobs"])
		assert.Equal(t, health.StatusHealthy, rep.Checks["db"])
	})

	t.Run("slow check times out", func(t *testing.T) {
		t.Parallel()

		c := health.New(20*time.Millisecond, nil).Add("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		rep := c.Run(context.Background())
		assert.Equal(t, health.StatusUnhealthy, rep.Status)
	})
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.Liveness().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), health.StatusHealthy)
}

package middlewares_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/middlewares"
)

func TestTimeout(t *testing.T) {
	t.Parallel()

	t.Run("sets a deadline on the request context", func(t *testing.T) {
		t.Parallel()

		var deadline time.Time
		var ok bool
		h := middlewares.Timeout(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			deadline, ok = r.Context().Deadline()
		}))
		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	})

	t.Run("cancels slow handlers", func(t *testing.T) {
		t.Parallel()

		var err error
		h := middlewares.Timeout(20 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
			err = r.Context().Err()
		}))
		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("non-positive timeout uses default", func(t *testing.T) {
		t.Parallel()

		var deadline time.Time
		h := middlewares.Timeout(0)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			deadline, _ = r.Context().Deadline()
		}))
		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		require.WithinDuration(t, time.Now().Add(middlewares.DefaultTimeout), deadline, 5*time.Second)
	})
}

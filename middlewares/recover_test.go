package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/middlewares"
)

func TestRecover(t *testing.T) {
	t.Parallel()

	t.Run("turns panic into 500 with PanicError", func(t *testing.T) {
		t.Parallel()

		var got error
		mw := middlewares.Recover(middlewares.WithRecoverErrorWriter(func(w http.ResponseWriter, r *http.Request, status int, err error) {
			got = err
			w.WriteHeader(status)
		}))
		h := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("test panic")
		}))
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		pe, ok := middlewares.AsPanicError(got)
		require.True(t, ok)
		require.Equal(t, "test panic", pe.Value)
		require.NotEmpty(t, pe.Stack)
		require.Equal(t, "panic: test panic", pe.Error())
	})

	t.Run("passes through when no panic", func(t *testing.T) {
		t.Parallel()

		h := middlewares.Recover()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("respects DisablePrintStack option", func(t *testing.T) {
		t.Parallel()

		var got error
		mw := middlewares.Recover(
			middlewares.WithRecoverDisablePrintStack(),
			middlewares.WithRecoverErrorWriter(func(w http.ResponseWriter, _ *http.Request, status int, err error) {
				got = err
				w.WriteHeader(status)
			}),
		)
		h := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("x") }))
		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

		pe, ok := middlewares.AsPanicError(got)
		require.True(t, ok)
		require.Nil(t, pe.Stack)
	})

	t.Run("re-panics ErrAbortHandler", func(t *testing.T) {
		t.Parallel()

		h := middlewares.Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestIsPanicError(t *testing.T) {
	t.Parallel()

	require.True(t, middlewares.IsPanicError(&middlewares.PanicError{Value: 1}))
	require.False(t, middlewares.IsPanicError(middlewares.ErrInvalidToken))
	_, ok := middlewares.AsPanicError(nil)
	require.False(t, ok)
}

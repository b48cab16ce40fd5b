package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/middlewares"
)

const maxBodySize = 1 << 20

var (
	errRouteNotFound    = apperr.NotFound("route not found")
	errMethodNotAllowed = apperr.New(apperr.KindValidationFailed, "method not allowed")
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// handlerFunc returns an error instead of writing one.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.renderError(w, r, apperr.As(err))
		}
	}
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: "success", Data: data})
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, e *apperr.Error) {
	status := e.Status()
	if e == errMethodNotAllowed {
		status = http.StatusMethodNotAllowed
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("code", string(e.Kind)),
		slog.Int("status", status),
	}
	if c := callerOf(r); c.UserID != "" {
		attrs = append(attrs, slog.String("user_id", c.UserID))
	}
	if id := chi.URLParam(r, "id"); id != "" {
		attrs = append(attrs, slog.String("target_id", id))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("error", e.Err))
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.LogAttrs(r.Context(), level, e.Message, attrs...)

	message := e.Message
	if message == "" {
		message = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Status:  "error",
		Message: message,
		Code:    string(e.Kind),
		Details: e.Details,
	})
}

// failure adapts middleware failures to the envelope.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, status int, err error) {
	var e *apperr.Error
	switch {
	case middlewares.IsPanicError(err):
		e = apperr.Internal("internal error", apperr.WithCause(err))
	case errors.Is(err, middlewares.ErrExpiredToken):
		e = apperr.Unauthenticated("token expired")
	case errors.Is(err, middlewares.ErrMissingToken):
		e = apperr.Unauthenticated("missing bearer token")
	case status == http.StatusUnauthorized:
		e = apperr.Unauthenticated("invalid token", apperr.WithCause(err))
	default:
		e = apperr.Internal(http.StatusText(status), apperr.WithCause(err))
	}
	s.renderError(w, r, e)
}

// decode reads a JSON body into T, rejecting unknown fields.
func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, apperr.Validation("invalid request body", apperr.WithCause(err))
	}
	return v, nil
}

func queryDefault[T ~string | ~int](r *http.Request, name string, def T) T {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	var zero T
	switch any(zero).(type) {
	case string:
		return any(raw).(T)
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return def
		}
		return any(v).(T)
	}
	return def
}

func pageOf(r *http.Request) store.Page {
	return store.Page{
		Limit: queryDefault(r, "limit", store.DefaultPageSize),
		After: queryDefault(r, "after", ""),
	}
}

// list is a keyset page. Next is the cursor for the following page and
// empty on the last one.
type list[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next,omitempty"`
}

func pageResult[M, V any](page store.Page, items []M, id func(M) string, view func(M) V) list[V] {
	out := list[V]{Items: make([]V, 0, len(items))}
	for _, it := range items {
		out.Items = append(out.Items, view(it))
	}
	if len(items) > 0 && len(items) == page.Size() {
		out.Next = id(items[len(items)-1])
	}
	return out
}

// Package health serves liveness and readiness probes.
//
// Readiness runs every registered check concurrently under one timeout and
// reports 503 when any of them fails.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Checker aggregates named checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Checker whose run is bounded by timeout (5s when zero).
func New(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{checks: make(map[string]CheckFunc), timeout: timeout, logger: logger}
}

// Add registers fn under name. A nil fn is ignored.
func (c *Checker) Add(name string, fn CheckFunc) *Checker {
	if fn == nil {
		return c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	return c
}

// Run executes all checks.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	rep := Report{Status: StatusHealthy, Checks: make(map[string]string, len(checks))}
	if len(checks) == 0 {
		return rep
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	for name, fn := range checks {
		g.Go(func() error {
			status := StatusHealthy
			if err := fn(ctx); err != nil {
				status = StatusUnhealthy
				c.logger.WarnContext(ctx, "health check failed", slog.String("check", name), slog.Any("error", err))
			}
			mu.Lock()
			rep.Checks[name] = status
			if status != StatusHealthy {
				rep.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Liveness reports that the process is serving requests.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, Report{Status: StatusHealthy})
	}
}

// Readiness runs the checks and answers 200 or 503.
func (c *Checker) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := c.Run(r.Context())
		code := http.StatusOK
		if rep.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		write(w, code, rep)
	}
}

func write(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// Package server runs the HTTP listener and coordinates graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	defaultShutdownTimeout   = 15 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
)

// Hook runs during startup or shutdown.
type Hook func(ctx context.Context) error

// Config describes one server run. Zero durations use the defaults.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// StartupHooks run in order before the listener accepts requests.
	StartupHooks []Hook
	// ShutdownHooks run in order after the listener drained.
	ShutdownHooks []Hook
	// OnListen receives the bound address.
	OnListen func(addr net.Addr)
}

func (c *Config) defaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Run serves h until ctx is cancelled or the listener fails, then shuts
// down within ShutdownTimeout. Shutdown hooks always run once the
// startup hooks succeeded.
func Run(ctx context.Context, h http.Handler, cfg Config) error {
	cfg.defaults()
	logger := cfg.Logger

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	for _, hook := range cfg.StartupHooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Join(err, shutdown(cfg, nil))
	}
	if cfg.OnListen != nil {
		cfg.OnListen(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}
	return errors.Join(serveErr, shutdown(cfg, srv))
}

func shutdown(cfg Config, srv *http.Server) error {
	cfg.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hook := range cfg.ShutdownHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
			cfg.Logger.Error("shutdown hook failed", slog.Any("error", err))
		}
	}

	if len(errs) > 0 {
		cfg.Logger.Error("shutdown completed with errors")
		return errors.Join(errs...)
	}
	cfg.Logger.Info("shutdown completed")
	return nil
}

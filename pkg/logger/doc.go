// Package logger builds the service's structured slog logger.
//
// Records are written as JSON (or text for local development) and enriched
// with request-scoped attributes through ContextExtractor functions. When a
// Sentry DSN is configured, warnings are forwarded as Sentry logs and errors
// become Sentry issues.
//
//	log := logger.New(cfg, os.Stdout, logger.ContextAttrs)
//	ctx = logger.WithAttrs(ctx, slog.String("user_id", caller.UserID))
//	log.InfoContext(ctx, "domain registered") // carries user_id
package logger

// Package middlewares provides net/http middleware for the provisioner API.
//
// Recommended order, outermost first:
//
//	r.Use(
//	    middlewares.RequestID(),
//	    middlewares.Recover(middlewares.WithRecoverLogger(log)),
//	    middlewares.Timeout(15*time.Second),
//	)
//
// Authenticated route groups add JWT, which stores the parsed claims in
// the request context:
//
//	r.With(middlewares.JWT[Claims](secret)).Get("/me", handler)
//
// Use RequestIDExtractor with logger.New so every log entry written with a
// request context carries request_id.
package middlewares

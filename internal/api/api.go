// Package api is the JSON HTTP surface of the provisioning engine.
//
// Every response uses one envelope:
//
//	{"status": "success", "data": ...}
//	{"status": "error", "message": "...", "code": "quota_exceeded", "details": ...}
//
// Routes under /api require an HS256 bearer token; the short-link redirect
// at /{slug} and the ops endpoints are public.
package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/metrics"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/quota"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/internal/verification"
	"github.com/dmitrymomot/provisioner/middlewares"
	"github.com/dmitrymomot/provisioner/pkg/health"
)

// DomainService is implemented by *verification.Engine.
type DomainService interface {
	RegisterDomain(ctx context.Context, caller model.Caller, userID, name string) (verification.Result, error)
	VerifyOwnership(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)
	RecheckOwnership(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)
	EnableEmailService(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)
	VerifyEmailConfiguration(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)
	DeleteDomain(ctx context.Context, caller model.Caller, domainID string) error
	GetDomain(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)
	ListDomains(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.CustomDomain, error)
}

// LinkService is implemented by *allocator.Links.
type LinkService interface {
	Create(ctx context.Context, caller model.Caller, in allocator.LinkInput) (model.ShortURL, error)
	Get(ctx context.Context, caller model.Caller, linkID string) (model.ShortURL, error)
	List(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.ShortURL, error)
	Export(ctx context.Context, caller model.Caller, userID string) (iter.Seq2[model.ShortURL, error], error)
	Update(ctx context.Context, caller model.Caller, linkID string, up allocator.LinkUpdate) (model.ShortURL, error)
	Delete(ctx context.Context, caller model.Caller, linkID string) error
	Resolve(ctx context.Context, host, slug, password string) (allocator.Resolution, error)
}

// AliasService is implemented by *allocator.Aliases.
type AliasService interface {
	Create(ctx context.Context, caller model.Caller, domainID string, in allocator.AliasInput) (model.EmailAlias, error)
	Delete(ctx context.Context, caller model.Caller, aliasID string) error
	List(ctx context.Context, caller model.Caller, domainID string, page store.Page) ([]model.EmailAlias, error)
}

// RecordService is implemented by *allocator.Records.
type RecordService interface {
	Create(ctx context.Context, caller model.Caller, in allocator.RecordInput) (model.DNSRecord, error)
	Update(ctx context.Context, caller model.Caller, recordID string, change reconciler.Change) (model.DNSRecord, error)
	Delete(ctx context.Context, caller model.Caller, recordID string) error
	List(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.DNSRecord, error)
}

// UsageService is implemented by *quota.Ledger.
type UsageService interface {
	Usage(ctx context.Context, caller model.Caller, userID string) ([]quota.Usage, error)
}

// Enqueuer triggers background tasks by name.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// Services bundles the operations the API exposes.
type Services struct {
	Domains DomainService
	Links   LinkService
	Aliases AliasService
	Records RecordService
	Usage   UsageService
}

// Config holds the authentication and request settings.
type Config struct {
	JWTSecret      []byte
	JWTIssuer      string
	RequestTimeout time.Duration
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth serves the checker at /health/ready.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) { s.health = c }
}

// WithEnqueuer enables POST /api/admin/dns/audit.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *Server) { s.jobs = e }
}

// Server is the HTTP handler.
type Server struct {
	svc     Services
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	health  *health.Checker
	jobs    Enqueuer
	router  chi.Router
}

// New builds the router.
func New(svc Services, cfg Config, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.RequestID())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middlewares.Recover(
		middlewares.WithRecoverLogger(s.logger),
		middlewares.WithRecoverErrorWriter(s.failure),
	))
	r.Use(middlewares.Timeout(s.cfg.RequestTimeout))

	r.NotFound(s.handle(func(http.ResponseWriter, *http.Request) error {
		return errRouteNotFound
	}))
	r.MethodNotAllowed(s.handle(func(http.ResponseWriter, *http.Request) error {
		return errMethodNotAllowed
	}))

	r.Get("/health/live", health.Liveness())
	if s.health != nil {
		r.Get("/health/ready", s.health.Readiness())
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/{slug}", s.handle(s.redirect))

	r.Route("/api", func(r chi.Router) {
		r.Use(middlewares.JWT[Claims](s.cfg.JWTSecret,
			middlewares.WithJWTIssuer(s.cfg.JWTIssuer),
			middlewares.WithJWTSubjectRequired(),
			middlewares.WithJWTErrorWriter(s.failure),
		))

		r.Route("/domains", func(r chi.Router) {
			r.Post("/", s.handle(s.registerDomain))
			r.Get("/", s.handle(s.listDomains))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handle(s.getDomain))
				r.Delete("/", s.handle(s.deleteDomain))
				r.Post("/verify", s.handle(s.verifyOwnership))
				r.Post("/recheck", s.handle(s.recheckOwnership))
				r.Post("/email", s.handle(s.enableEmail))
				r.Post("/email/verify", s.handle(s.verifyEmail))
				r.Post("/aliases", s.handle(s.createAlias))
				r.Get("/aliases", s.handle(s.listAliases))
			})
		})

		r.Delete("/aliases/{id}", s.handle(s.deleteAlias))

		r.Route("/links", func(r chi.Router) {
			r.Post("/", s.handle(s.createLink))
			r.Get("/", s.handle(s.listLinks))
			r.Get("/{id}", s.handle(s.getLink))
			r.Patch("/{id}", s.handle(s.updateLink))
			r.Delete("/{id}", s.handle(s.deleteLink))
		})

		r.Route("/dns/records", func(r chi.Router) {
			r.Post("/", s.handle(s.createRecord))
			r.Get("/", s.handle(s.listRecords))
			r.Patch("/{id}", s.handle(s.updateRecord))
			r.Delete("/{id}", s.handle(s.deleteRecord))
		})

		r.Get("/usage", s.handle(s.usage))
		r.Get("/export/links", s.handle(s.exportLinks))
		r.Post("/admin/dns/audit", s.handle(s.triggerAudit))
	})
	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/api"
	"github.com/dmitrymomot/provisioner/internal/audit"
	"github.com/dmitrymomot/provisioner/internal/config"
	"github.com/dmitrymomot/provisioner/internal/metrics"
	"github.com/dmitrymomot/provisioner/internal/quota"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/server"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/internal/store/postgres"
	"github.com/dmitrymomot/provisioner/internal/store/sqlite"
	"github.com/dmitrymomot/provisioner/internal/tasks"
	"github.com/dmitrymomot/provisioner/internal/verification"
	"github.com/dmitrymomot/provisioner/middlewares"
	"github.com/dmitrymomot/provisioner/pkg/cache"
	"github.com/dmitrymomot/provisioner/pkg/db"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
	"github.com/dmitrymomot/provisioner/pkg/health"
	"github.com/dmitrymomot/provisioner/pkg/job"
	"github.com/dmitrymomot/provisioner/pkg/logger"
	"github.com/dmitrymomot/provisioner/pkg/redis"
)

// database is the persistence backend with its lifecycle.
type database interface {
	store.Store
	Ping(ctx context.Context) error
	Close() error
}

// stack is everything the commands share. closers run in reverse order.
type stack struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	store    database
	pool     *pgxpool.Pool
	redis    goredis.UniversalClient
	zone     dnsprovider.Zone
	audit    *audit.Logger
	records  *reconciler.Reconciler
	dnsAudit *tasks.DNSAudit
	closers  []server.Hook
}

func loadConfig(c *cli.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(cfg.Log, os.Stdout, middlewares.RequestIDExtractor(), api.CallerExtractor())
	return cfg, log, nil
}

func (s *stack) onClose(fn server.Hook) {
	s.closers = append(s.closers, fn)
}

// Close runs the registered closers, newest first.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Flush(2 * time.Second)
	return errors.Join(errs...)
}

// build connects the stores and the DNS provider. The HTTP services are
// assembled separately so the one-shot commands stay light.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *stack, err error) {
	s := &stack{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		zone:    dnsprovider.Zone{ID: cfg.DNS.ZoneID, Name: cfg.DNS.ZoneName},
	}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s.pool, err = db.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		s.store = postgres.New(s.pool)
	case config.DriverSQLite:
		s.store, err = sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
	}
	s.onClose(func(context.Context) error { return s.store.Close() })

	if cfg.Redis.URL != "" {
		s.redis, err = redis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.onClose(func(context.Context) error { return s.redis.Close() })
	}

	s.audit = audit.NewLogger(log, cfg.AuditBuffer, audit.WithDropHook(s.metrics.AuditDropped()))
	s.onClose(func(context.Context) error { return s.audit.Close() })

	provider, err := newProvider(cfg.DNS, log)
	if err != nil {
		return nil, err
	}
	client := dnsprovider.NewRetrying(provider,
		dnsprovider.WithAttempts(cfg.DNS.ProviderRetries),
		dnsprovider.WithAttemptTimeout(cfg.DNS.ProviderTimeout),
		dnsprovider.WithRetryLogger(log),
		dnsprovider.WithObserver(s.metrics.ProviderObserver()),
	)
	s.records = reconciler.New(client, s.store,
		reconciler.WithLogger(log),
		reconciler.WithAuditSink(s.audit),
	)
	s.dnsAudit = tasks.NewDNSAudit(s.records, cfg.AuditSchedule, []dnsprovider.Zone{s.zone},
		tasks.WithLogger(log),
		tasks.WithAuditSink(s.audit),
		tasks.WithReportHook(s.metrics.DNSAuditReport),
	)
	return s, nil
}

func newProvider(cfg config.DNS, log *slog.Logger) (dnsprovider.Client, error) {
	switch cfg.Provider {
	case config.ProviderCloudflare:
		opts := []dnsprovider.CloudflareOption{dnsprovider.WithLogger(log)}
		if cfg.ProviderBaseURL != "" {
			opts = append(opts, dnsprovider.WithBaseURL(cfg.ProviderBaseURL))
		}
		return dnsprovider.NewCloudflare(dnsprovider.Credentials{
			APIToken: cfg.CloudflareToken,
			APIKey:   cfg.CloudflareKey,
			APIEmail: cfg.CloudflareEmail,
		}, opts...)
	case config.ProviderLibDNSCloudflare:
		return dnsprovider.NewLibDNSCloudflare(cfg.CloudflareToken, log)
	case config.ProviderLibDNSDigitalOcean:
		return dnsprovider.NewLibDNSDigitalOcean(cfg.DigitalOceanToken, log)
	case config.ProviderMemory:
		log.Warn("using the in-memory dns provider; records are not published")
		return dnsprovider.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown dns provider %q", cfg.Provider)
}

func newResolver(cfg config.DNS) dnsverify.Resolver {
	if cfg.Nameserver != "" {
		return dnsverify.NewNameserverResolver(cfg.Nameserver, cfg.Timeout)
	}
	return dnsverify.System()
}

func (s *stack) plans() (quota.Plans, error) {
	if s.cfg.PlansFile == "" {
		return quota.DefaultPlans(), nil
	}
	return quota.LoadPlans(s.cfg.PlansFile)
}

func (s *stack) linkCache() cache.Cache[allocator.Resolution] {
	if s.redis == nil {
		return nil
	}
	return cache.NewRedis(s.redis, "provisioner:links:", s.cfg.LinkCacheTTL, cache.JSON[allocator.Resolution]{})
}

// runner picks River on PostgreSQL and the in-process runner on SQLite.
func (s *stack) runner() (job.Runner, error) {
	opts := []job.Option{job.WithLogger(s.log), job.WithScheduledTask(s.dnsAudit)}
	if s.pool != nil {
		return job.NewRiver(s.pool, s.cfg.Jobs, opts...)
	}
	return job.NewLocal(opts...)
}

// services assembles the API backends over the shared stack.
func (s *stack) services() (api.Services, error) {
	plans, err := s.plans()
	if err != nil {
		return api.Services{}, err
	}
	known := quota.NewStoredPlans(s.store)
	ledger := quota.New(plans, s.store,
		quota.WithPlanResolver(known.Resolve),
		quota.WithPlanRecorder(known.Remember),
		quota.WithLogger(s.log),
		quota.WithObserver(s.metrics.QuotaObserver()),
	)

	domains := verification.New(s.store, ledger, s.records, newResolver(s.cfg.DNS), verification.Config{
		VerifyPrefix:       s.cfg.DNS.VerifyPrefix,
		SystemZone:         s.zone,
		ExtraSystemZones:   s.cfg.SystemZones(),
		MXHost:             s.cfg.Mail.MXHost,
		SPFInclude:         s.cfg.Mail.SPFInclude,
		OutboundIP:         net.ParseIP(s.cfg.Mail.OutboundIP),
		DMARCReportAddress: s.cfg.Mail.DMARCReportTo,
		LookupTimeout:      s.cfg.DNS.Timeout,
	},
		verification.WithLogger(s.log),
		verification.WithAuditSink(s.audit),
		verification.WithObserver(s.metrics.VerificationObserver()),
	)

	opts := []allocator.Option{allocator.WithLogger(s.log), allocator.WithAuditSink(s.audit)}
	return api.Services{
		Domains: domains,
		Links: allocator.NewLinks(s.store, ledger, s.records, s.linkCache(), allocator.LinksConfig{
			Zone:       s.zone,
			EdgeTarget: s.cfg.DNS.ShortLinkTarget,
			CacheTTL:   s.cfg.LinkCacheTTL,
		}, opts...),
		Aliases: allocator.NewAliases(s.store, ledger, opts...),
		Records: allocator.NewRecords(s.store, ledger, s.records, s.zone,
			allocator.WithLogger(s.log),
			allocator.WithAuditSink(s.audit),
			allocator.WithReservedLabels(s.cfg.DNS.VerifyPrefix),
		),
		Usage:   ledger,
	}, nil
}

func (s *stack) health(runner job.Runner) *health.Checker {
	c := health.New(5*time.Second, s.log).
		Add("database", s.store.Ping).
		Add("jobs", runner.Healthcheck)
	if s.redis != nil {
		c.Add("redis", redis.Healthcheck(s.redis))
	}
	return c
}


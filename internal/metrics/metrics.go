// Package metrics exposes Prometheus collectors for the provisioning
// engine and adapters that plug them into the domain packages' observer
// hooks.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
)

const namespace = "provisioner"

// Provider call results.
const (
	ResultOK        = "ok"
	ResultTemporary = "temporary"
	ResultRejected  = "rejected"
	ResultTimeout   = "timeout"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	quota        *prometheus.CounterVec
	verification *prometheus.CounterVec
	provider     *prometheus.HistogramVec
	auditDropped prometheus.Counter
	drift        *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// New registers every collector, including the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		quota: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Quota admission checks by resource kind and outcome.",
		}, []string{"kind", "outcome"}),
		verification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_attempts_total",
			Help:      "DNS proof attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		provider: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dns_provider_call_duration_seconds",
			Help:      "DNS provider API call latency by operation and result.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the buffer was full.",
		}),
		drift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dns_drift_records",
			Help:      "Records found out of sync by the last DNS audit, by zone and kind.",
		}, []string{"zone", "kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.quota,
		m.verification,
		m.provider,
		m.auditDropped,
		m.drift,
		m.requests,
		m.duration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// QuotaObserver plugs into quota.WithObserver.
func (m *Metrics) QuotaObserver() func(kind model.ResourceKind, outcome string) {
	return func(kind model.ResourceKind, outcome string) {
		m.quota.WithLabelValues(string(kind), outcome).Inc()
	}
}

// VerificationObserver plugs into verification.WithObserver.
func (m *Metrics) VerificationObserver() func(op, outcome string) {
	return func(op, outcome string) {
		m.verification.WithLabelValues(op, outcome).Inc()
	}
}

// ProviderObserver plugs into dnsprovider.WithObserver.
func (m *Metrics) ProviderObserver() func(op string, err error, d time.Duration) {
	return func(op string, err error, d time.Duration) {
		m.provider.WithLabelValues(op, providerResult(err)).Observe(d.Seconds())
	}
}

// AuditDropped plugs into audit.WithDropHook.
func (m *Metrics) AuditDropped() func() {
	return m.auditDropped.Inc
}

// DNSAuditReport plugs into tasks.WithReportHook.
func (m *Metrics) DNSAuditReport(rep reconciler.Report) {
	m.drift.WithLabelValues(rep.Zone.Name, "orphan").Set(float64(len(rep.Orphans)))
	m.drift.WithLabelValues(rep.Zone.Name, "ghost").Set(float64(len(rep.Ghosts)))
	m.drift.WithLabelValues(rep.Zone.Name, "drifted").Set(float64(len(rep.Drifted)))
}

func providerResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case dnsprovider.IsTemporary(err):
		return ResultTemporary
	default:
		return ResultRejected
	}
}

// Middleware records request counts and latency labelled with the chi
// route pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

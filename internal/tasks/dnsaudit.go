// Package tasks holds the background tasks run by the job runner.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/provisioner/internal/audit"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
)

// DNSAuditTask is the job name of the drift audit.
const DNSAuditTask = "dns.audit"

// Auditor compares a zone with its mirror. Implemented by *reconciler.Reconciler.
type Auditor interface {
	Audit(ctx context.Context, zone dnsprovider.Zone) (reconciler.Report, error)
}

// DNSAudit periodically diffs every managed zone against the local mirror
// and reports drift. It never repairs anything.
type DNSAudit struct {
	auditor  Auditor
	zones    []dnsprovider.Zone
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	sink     audit.Sink
	onReport func(reconciler.Report)
}

type Option func(*DNSAudit)

func WithLogger(l *slog.Logger) Option {
	return func(t *DNSAudit) { t.logger = l }
}

func WithAuditSink(s audit.Sink) Option {
	return func(t *DNSAudit) { t.sink = s }
}

// WithZoneTimeout bounds the audit of a single zone.
// Default: 2 minutes
func WithZoneTimeout(d time.Duration) Option {
	return func(t *DNSAudit) { t.timeout = d }
}

// WithReportHook receives every finished report.
func WithReportHook(fn func(reconciler.Report)) Option {
	return func(t *DNSAudit) { t.onReport = fn }
}

// NewDNSAudit builds the task. An empty schedule leaves it on-demand only.
func NewDNSAudit(a Auditor, schedule string, zones []dnsprovider.Zone, opts ...Option) *DNSAudit {
	t := &DNSAudit{
		auditor:  a,
		zones:    zones,
		schedule: schedule,
		timeout:  2 * time.Minute,
		logger:   slog.New(slog.DiscardHandler),
		sink:     audit.Nop{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *DNSAudit) Name() string     { return DNSAuditTask }
func (t *DNSAudit) Schedule() string { return t.schedule }

// Handle audits every zone. A failing zone does not stop the others; the
// joined error is returned so the runner can retry.
func (t *DNSAudit) Handle(ctx context.Context) error {
	var errs []error
	for _, zone := range t.zones {
		rep, err := t.auditZone(ctx, zone)
		if err != nil {
			t.logger.ErrorContext(ctx, "dns audit failed", slog.Any("zone", zone), slog.Any("error", err))
			t.sink.Record(ctx, audit.Event{
				Action:   "dns.audit",
				TargetID: zone.ID,
				Outcome:  audit.OutcomeFailure,
				Attrs:    []slog.Attr{slog.String("zone", zone.Name)},
			})
			errs = append(errs, err)
			continue
		}
		if t.onReport != nil {
			t.onReport(rep)
		}
		t.sink.Record(ctx, audit.Event{
			Action:   "dns.audit",
			TargetID: zone.ID,
			Outcome:  audit.OutcomeSuccess,
			Attrs: []slog.Attr{
				slog.String("zone", zone.Name),
				slog.Bool("clean", rep.Clean()),
				slog.Int("orphans", len(rep.Orphans)),
				slog.Int("ghosts", len(rep.Ghosts)),
				slog.Int("drifted", len(rep.Drifted)),
			},
		})
	}
	return errors.Join(errs...)
}

func (t *DNSAudit) auditZone(ctx context.Context, zone dnsprovider.Zone) (reconciler.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.auditor.Audit(ctx, zone)
}

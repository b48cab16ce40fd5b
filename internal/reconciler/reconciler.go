// Package reconciler keeps the local DNS record mirror consistent with the
// provider. The provider call is always made first; the mirror is written
// only from the provider's canonical answer, and a local row is never
// removed before the provider confirmed the deletion.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/audit"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/id"
)

// Marker prefixes the comment of every record the service creates.
const Marker = "provisioner"

// Spec describes a record to create.
type Spec struct {
	Zone           dnsprovider.Zone
	UserID         string
	CustomDomainID string
	Purpose        model.RecordPurpose
	Type           string
	Name           string
	Content        string
	TTL            int
	Proxied        bool
	Priority       *uint16
	Comment        string
	Tags           []string
}

// Change holds the mutable fields of an update. Nil fields keep their value.
type Change struct {
	Content  *string
	TTL      *int
	Proxied  *bool
	Priority *uint16
	Comment  *string
}

// Reconciler orders provider and mirror writes.
type Reconciler struct {
	client  dnsprovider.Client
	records store.Records
	sink    audit.Sink
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithAuditSink(s audit.Sink) Option {
	return func(r *Reconciler) { r.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(client dnsprovider.Client, records store.Records, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:  client,
		records: records,
		sink:    audit.Nop{},
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func comment(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case c == "":
		return Marker
	case strings.HasPrefix(c, Marker):
		return c
	}
	return Marker + ": " + c
}

// Managed reports whether a remote record carries the service marker.
func Managed(rec dnsprovider.Record) bool {
	return strings.HasPrefix(rec.Comment, Marker)
}

// Create provisions a record and then mirrors it. On provider failure
// nothing is written locally.
func (r *Reconciler) Create(ctx context.Context, spec Spec) (model.DNSRecord, error) {
	remote, err := r.client.CreateRecord(ctx, spec.Zone, dnsprovider.Record{
		Type:     spec.Type,
		Name:     spec.Name,
		Content:  spec.Content,
		TTL:      spec.TTL,
		Proxied:  spec.Proxied,
		Priority: spec.Priority,
		Comment:  comment(spec.Comment),
		Tags:     spec.Tags,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "provider rejected record create",
			slog.String("user_id", spec.UserID),
			slog.String("type", spec.Type),
			slog.String("name", spec.Name),
			slog.Any("zone", spec.Zone),
			slog.Any("error", err),
		)
		return model.DNSRecord{}, providerErr("create", err)
	}

	now := r.now().UTC()
	rec := mirror(model.DNSRecord{
		ID:             id.NewULID(),
		ZoneID:         spec.Zone.ID,
		ZoneName:       spec.Zone.Name,
		UserID:         spec.UserID,
		CustomDomainID: spec.CustomDomainID,
		Purpose:        spec.Purpose,
		Active:         true,
		CreatedAt:      now,
	}, remote, now)

	if err := r.records.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent create won the name; withdraw our twin.
			if derr := r.client.DeleteRecord(ctx, spec.Zone, remote.ID); derr != nil {
				r.orphan(ctx, spec.Zone, remote, spec.UserID, errors.Join(err, derr))
			}
			return model.DNSRecord{}, apperr.Duplicate("dns record already exists", apperr.WithCause(err))
		}
		r.orphan(ctx, spec.Zone, remote, spec.UserID, err)
		return model.DNSRecord{}, apperr.Internal("failed to store dns record", apperr.WithCause(err))
	}

	r.sink.Record(ctx, audit.Event{
		Action:   "dns.record.create",
		ActorID:  spec.UserID,
		TargetID: rec.ID,
		Outcome:  audit.OutcomeSuccess,
		Attrs:    []slog.Attr{slog.String("remote_id", rec.RemoteID), slog.String("name", rec.Name), slog.String("type", rec.Type)},
	})
	return rec, nil
}

// Update applies change to the provider record and then overwrites the
// mirror with the canonical answer. A provider failure leaves the mirror
// untouched.
func (r *Reconciler) Update(ctx context.Context, current model.DNSRecord, change Change) (model.DNSRecord, error) {
	if !current.Active {
		return model.DNSRecord{}, apperr.NotFound("dns record not found")
	}
	want := dnsprovider.Record{
		ID:       current.RemoteID,
		Type:     current.Type,
		Name:     current.Name,
		Content:  current.Content,
		TTL:      current.TTL,
		Proxied:  current.Proxied,
		Priority: current.Priority,
		Comment:  current.Comment,
		Tags:     current.Tags,
	}
	if change.Content != nil {
		want.Content = *change.Content
	}
	if change.TTL != nil {
		want.TTL = *change.TTL
	}
	if change.Proxied != nil {
		want.Proxied = *change.Proxied
	}
	if change.Priority != nil {
		want.Priority = change.Priority
	}
	if change.Comment != nil {
		want.Comment = comment(*change.Comment)
	}

	remote, err := r.client.UpdateRecord(ctx, zoneOf(current), want)
	if err != nil {
		r.logger.WarnContext(ctx, "provider rejected record update",
			slog.String("record_id", current.ID),
			slog.String("remote_id", current.RemoteID),
			slog.Any("error", err),
		)
		return model.DNSRecord{}, providerErr("update", err)
	}

	now := r.now().UTC()
	next := mirror(current, remote, now)
	if err := r.records.UpdateRecord(ctx, next); err != nil {
		r.logger.ErrorContext(ctx, "dns record updated remotely but mirror write failed",
			slog.String("record_id", current.ID),
			slog.String("remote_id", remote.ID),
			slog.Any("error", err),
		)
		return model.DNSRecord{}, apperr.Internal("failed to store dns record", apperr.WithCause(err))
	}

	r.sink.Record(ctx, audit.Event{
		Action:   "dns.record.update",
		ActorID:  current.UserID,
		TargetID: current.ID,
		Outcome:  audit.OutcomeSuccess,
	})
	return next, nil
}

// Delete removes the provider record and then deactivates the mirror row.
// An already absent provider record counts as deleted. On any other
// provider failure the mirror row stays active.
func (r *Reconciler) Delete(ctx context.Context, current model.DNSRecord) error {
	if !current.Active {
		return nil
	}
	if err := r.client.DeleteRecord(ctx, zoneOf(current), current.RemoteID); err != nil {
		r.logger.WarnContext(ctx, "provider rejected record delete",
			slog.String("record_id", current.ID),
			slog.String("remote_id", current.RemoteID),
			slog.Any("error", err),
		)
		return providerErr("delete", err)
	}

	err := r.records.DeactivateRecord(ctx, current.ID, r.now().UTC())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.ErrorContext(ctx, "dns record deleted remotely but mirror still active",
			slog.String("record_id", current.ID),
			slog.String("remote_id", current.RemoteID),
			slog.Any("error", err),
		)
		return apperr.Internal("failed to update dns record", apperr.WithCause(err))
	}

	r.sink.Record(ctx, audit.Event{
		Action:   "dns.record.delete",
		ActorID:  current.UserID,
		TargetID: current.ID,
		Outcome:  audit.OutcomeSuccess,
	})
	return nil
}

func (r *Reconciler) orphan(ctx context.Context, zone dnsprovider.Zone, remote dnsprovider.Record, userID string, err error) {
	r.logger.ErrorContext(ctx, "orphaned provider record: mirror insert failed",
		slog.Any("zone", zone),
		slog.String("remote_id", remote.ID),
		slog.String("name", remote.Name),
		slog.String("type", remote.Type),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
	r.sink.Record(ctx, audit.Event{
		Action:   "dns.record.orphaned",
		ActorID:  userID,
		TargetID: remote.ID,
		Outcome:  audit.OutcomeFailure,
	})
}

func zoneOf(rec model.DNSRecord) dnsprovider.Zone {
	return dnsprovider.Zone{ID: rec.ZoneID, Name: rec.ZoneName}
}

// mirror copies the provider's canonical fields onto rec.
func mirror(rec model.DNSRecord, remote dnsprovider.Record, now time.Time) model.DNSRecord {
	rec.RemoteID = remote.ID
	rec.Type = remote.Type
	rec.Name = remote.Name
	rec.Content = remote.Content
	rec.TTL = remote.TTL
	rec.Proxied = remote.Proxied
	rec.Priority = remote.Priority
	rec.Comment = remote.Comment
	rec.Tags = remote.Tags
	rec.ModifiedAt = now
	if !remote.ModifiedAt.IsZero() {
		rec.ModifiedAt = remote.ModifiedAt.UTC()
	}
	return rec
}

// ProviderDetails is returned to clients with provider_rejected errors.
type ProviderDetails struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func providerErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Provider("dns provider did not respond in time", apperr.WithCause(err))
	}
	d := ProviderDetails{Message: "dns provider " + op + " failed"}
	var pe *dnsprovider.ProviderError
	if errors.As(err, &pe) {
		d.Status = pe.Status
		if pe.Message != "" {
			d.Message = pe.Message
		}
	}
	return apperr.Provider("dns provider rejected the "+op, apperr.WithCause(err), apperr.WithDetails(d))
}

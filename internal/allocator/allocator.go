// Package allocator creates and manages quota-gated resources: short links,
// email aliases and user DNS records in the service zone.
//
// Every operation follows the same order: authorize, validate, admit
// through the quota ledger, provision DNS through the reconciler when the
// resource is DNS visible, then persist.
package allocator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/audit"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
)

// Quota admits resource creation.
type Quota interface {
	Check(ctx context.Context, caller model.Caller, userID string, kind model.ResourceKind) error
}

// Reconciler provisions provider-backed records.
type Reconciler interface {
	Create(ctx context.Context, spec reconciler.Spec) (model.DNSRecord, error)
	Update(ctx context.Context, current model.DNSRecord, change reconciler.Change) (model.DNSRecord, error)
	Delete(ctx context.Context, current model.DNSRecord) error
}

type base struct {
	quota  Quota
	policy *policy.Policy
	sink   audit.Sink
	logger *slog.Logger
	now    func() time.Time
	// reserved labels cannot appear in user record names.
	reserved []string
}

// Option configures any allocator.
type Option func(*base)

func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

func WithAuditSink(s audit.Sink) Option {
	return func(b *base) { b.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

func WithPolicy(p *policy.Policy) Option {
	return func(b *base) { b.policy = p }
}

// WithReservedLabels adds labels user DNS records may not use, on top of
// _verify, _dmarc and _report.
func WithReservedLabels(labels ...string) Option {
	return func(b *base) { b.reserved = append(b.reserved, labels...) }
}

func newBase(quota Quota, opts []Option) base {
	b := base{
		quota:    quota,
		policy:   policy.New(policy.Default),
		sink:     audit.Nop{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		reserved: []string{"_verify", "_dmarc", "_report"},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// owner resolves the owner of a new resource and authorizes action for it.
func (b base) owner(caller model.Caller, requested string, action policy.Action) (string, error) {
	owner, ok := b.policy.Owner(caller, requested)
	if !ok || !b.policy.CanPerform(caller, action, policy.Owned(owner)) {
		b.logger.Warn("action denied",
			slog.Any("caller", caller),
			slog.String("action", string(action)),
			slog.String("owner", requested),
		)
		return "", apperr.Unauthorized("not allowed to act for this user")
	}
	return owner, nil
}

// authorize checks action on an existing resource. Resources of other users
// look absent to callers that cannot act for others.
func (b base) authorize(caller model.Caller, action policy.Action, ownerID, what string) error {
	if b.policy.CanPerform(caller, action, policy.Owned(ownerID)) {
		return nil
	}
	if ownerID != caller.UserID {
		return apperr.NotFound(what + " not found")
	}
	return apperr.Unauthorized("action not allowed")
}

func (b base) event(ctx context.Context, caller model.Caller, action, target string, attrs ...slog.Attr) {
	b.sink.Record(ctx, audit.Event{
		Action:   action,
		ActorID:  caller.UserID,
		TargetID: target,
		Outcome:  audit.OutcomeSuccess,
		Attrs:    attrs,
	})
}

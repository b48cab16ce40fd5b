// Package verification runs the custom domain lifecycle: registration,
// DNS ownership proof, email-service activation and email-service proof.
//
// Every state change is computed by model.Transition and written as a
// compare-and-swap, so concurrent verifications of one domain converge on
// the same state without locks.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"time"

	"blitiri.com.ar/go/spf"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/audit"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
	"github.com/dmitrymomot/provisioner/pkg/id"
)

// Verification outcomes reported to the observer.
const (
	OutcomeVerified     = "verified"
	OutcomeUnverified   = "unverified"
	OutcomeLookupFailed = "lookup_failed"
	OutcomeDemoted      = "demoted"
)

// Store is the persistence the engine needs.
type Store interface {
	store.Domains
	ListRecords(ctx context.Context, f store.RecordFilter, page store.Page) ([]model.DNSRecord, error)
	DomainLinks(ctx context.Context, domain string, limit int) ([]model.ShortURL, error)
}

// Quota admits resource creation.
type Quota interface {
	Check(ctx context.Context, caller model.Caller, userID string, kind model.ResourceKind) error
}

// Records provisions provider-backed records.
type Records interface {
	Create(ctx context.Context, spec reconciler.Spec) (model.DNSRecord, error)
	Delete(ctx context.Context, current model.DNSRecord) error
}

// Config holds the DNS conventions the engine checks against.
type Config struct {
	// VerifyPrefix is the label the ownership TXT record lives under.
	VerifyPrefix string
	// SystemZone is the service's own zone. DMARC report authorization
	// records are published there, and customers cannot register it.
	SystemZone         dnsprovider.Zone
	ExtraSystemZones   []string
	MXHost             string
	SPFInclude         string
	OutboundIP         net.IP
	DMARCReportAddress string
	LookupTimeout      time.Duration
}

func (c Config) systemZones() []string {
	return append([]string{c.SystemZone.Name}, c.ExtraSystemZones...)
}

// ExpectedRecord is a record the customer must publish.
type ExpectedRecord struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Priority *uint16 `json:"priority,omitempty"`
}

// Result is returned by every lifecycle operation. Expected is filled
// whenever the proof is still missing.
type Result struct {
	Domain   model.CustomDomain `json:"domain"`
	Verified bool               `json:"verified"`
	Expected []ExpectedRecord   `json:"expected,omitempty"`
}

// Engine drives the custom domain lifecycle.
type Engine struct {
	store    Store
	quota    Quota
	records  Records
	resolver dnsverify.Resolver
	spf      SPFChecker
	policy   *policy.Policy
	cfg      Config
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
	observe  func(op, outcome string)
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithSPFChecker overrides the SPF evaluator built from the resolver.
func WithSPFChecker(c SPFChecker) Option {
	return func(e *Engine) { e.spf = c }
}

// WithObserver is called after every DNS proof attempt.
// op is "ownership", "email" or "recheck".
func WithObserver(fn func(op, outcome string)) Option {
	return func(e *Engine) { e.observe = fn }
}

func New(s Store, quota Quota, records Records, resolver dnsverify.Resolver, cfg Config, opts ...Option) *Engine {
	if cfg.VerifyPrefix == "" {
		cfg.VerifyPrefix = "_verify"
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	e := &Engine{
		store:    s,
		quota:    quota,
		records:  records,
		resolver: resolver,
		policy:   policy.New(policy.Default),
		cfg:      cfg,
		sink:     audit.Nop{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		observe:  func(string, string) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.spf == nil {
		e.spf = NewSPFChecker(resolver)
	}
	return e
}

// RegisterDomain adds name to userID's account in the unverified state.
// Elevated callers may register for another user and skip the quota.
func (e *Engine) RegisterDomain(ctx context.Context, caller model.Caller, userID, name string) (Result, error) {
	owner, ok := e.policy.Owner(caller, userID)
	if !ok || !e.policy.CanPerform(caller, policy.ActionRegisterDomain, policy.Owned(owner)) {
		return Result{}, apperr.Unauthorized("not allowed to register domains for this user")
	}

	ascii, msg := NormalizeDomain(name)
	if msg != "" {
		return Result{}, apperr.FieldErrors{"name": msg}.Err("invalid domain name")
	}
	if slices.ContainsFunc(e.cfg.systemZones(), func(z string) bool { return within(ascii, z) }) {
		return Result{}, apperr.FieldErrors{"name": "domain belongs to the service"}.Err("invalid domain name")
	}

	if !e.policy.CanPerform(caller, policy.ActionBypassDomainQuota, policy.Resource{}) {
		if err := e.quota.Check(ctx, caller, owner, model.KindCustomDomains); err != nil {
			return Result{}, err
		}
	}

	taken, err := e.store.VerifiedNameTaken(ctx, ascii, owner)
	if err != nil {
		return Result{}, apperr.Internal("failed to check domain", apperr.WithCause(err))
	}
	if taken {
		return Result{}, apperr.Duplicate("domain is verified by another account")
	}

	key, err := id.NewToken(32)
	if err != nil {
		return Result{}, apperr.Internal("failed to generate verification key", apperr.WithCause(err))
	}
	now := e.now().UTC()
	d := model.CustomDomain{
		ID:              id.NewULID(),
		UserID:          owner,
		Name:            ascii,
		VerificationKey: key,
		Ownership:       model.OwnershipUnverified,
		Email:           model.EmailDisabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateDomain(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Result{}, apperr.Duplicate("domain already registered")
		}
		return Result{}, apperr.Internal("failed to register domain", apperr.WithCause(err))
	}

	e.logger.InfoContext(ctx, "domain registered",
		slog.String("domain_id", d.ID),
		slog.String("user_id", owner),
		slog.String("domain", d.Name),
	)
	e.event(ctx, caller, "domain.register", d.ID, audit.OutcomeSuccess)
	return Result{Domain: d, Expected: e.ownershipRecords(d)}, nil
}

// VerifyOwnership checks the ownership TXT record and promotes the domain
// on success. A domain that is already verified returns without a lookup.
func (e *Engine) VerifyOwnership(ctx context.Context, caller model.Caller, domainID string) (Result, error) {
	d, err := e.load(ctx, caller, policy.ActionVerifyDomain, domainID)
	if err != nil {
		return Result{}, err
	}
	if d.Verified() {
		return Result{Domain: d, Verified: true}, nil
	}

	proven, err := e.proveOwnership(ctx, d)
	if err != nil {
		e.observe("ownership", OutcomeLookupFailed)
		return Result{}, err
	}
	if !proven {
		e.observe("ownership", OutcomeUnverified)
		return Result{Domain: d, Expected: e.ownershipRecords(d)}, nil
	}

	d, err = e.promote(ctx, d)
	if err != nil {
		return Result{}, err
	}
	e.observe("ownership", OutcomeVerified)
	e.event(ctx, caller, "domain.verify", d.ID, audit.OutcomeSuccess)
	return Result{Domain: d, Verified: true}, nil
}

// RecheckOwnership repeats the ownership lookup for a domain in any state.
// A missing proof demotes a verified domain; a lookup failure changes nothing.
func (e *Engine) RecheckOwnership(ctx context.Context, caller model.Caller, domainID string) (Result, error) {
	d, err := e.load(ctx, caller, policy.ActionVerifyDomain, domainID)
	if err != nil {
		return Result{}, err
	}

	proven, err := e.proveOwnership(ctx, d)
	if err != nil {
		e.observe("recheck", OutcomeLookupFailed)
		return Result{}, err
	}
	if proven {
		if !d.Verified() {
			if d, err = e.promote(ctx, d); err != nil {
				return Result{}, err
			}
		}
		e.observe("recheck", OutcomeVerified)
		return Result{Domain: d, Verified: true}, nil
	}

	wasVerified := d.Verified()
	d, err = e.apply(ctx, d, model.EventOwnershipLost)
	if err != nil {
		return Result{}, err
	}
	if wasVerified {
		e.observe("recheck", OutcomeDemoted)
		e.logger.WarnContext(ctx, "domain ownership proof disappeared",
			slog.String("domain_id", d.ID),
			slog.String("domain", d.Name),
		)
		e.event(ctx, caller, "domain.demote", d.ID, audit.OutcomeSuccess)
	} else {
		e.observe("recheck", OutcomeUnverified)
	}
	return Result{Domain: d, Expected: e.ownershipRecords(d)}, nil
}

// EnableEmailService publishes the DMARC report authorization for the
// domain and moves email to enabled_unverified. It returns the records the
// customer must publish. Calling it again returns the same records.
func (e *Engine) EnableEmailService(ctx context.Context, caller model.Caller, domainID string) (Result, error) {
	d, err := e.load(ctx, caller, policy.ActionManageEmail, domainID)
	if err != nil {
		return Result{}, err
	}
	if !d.Verified() {
		return Result{}, apperr.Validation("domain ownership is not verified")
	}

	if err := e.ensureReportAuthorization(ctx, d); err != nil {
		return Result{}, err
	}
	if d, err = e.apply(ctx, d, model.EventEmailEnabled); err != nil {
		return Result{}, err
	}

	e.event(ctx, caller, "domain.email.enable", d.ID, audit.OutcomeSuccess)
	return Result{
		Domain:   d,
		Verified: d.Email == model.EmailEnabledVerified,
		Expected: e.emailRecords(d),
	}, nil
}

// VerifyEmailConfiguration checks MX and SPF for the domain and marks the
// email service verified on success.
func (e *Engine) VerifyEmailConfiguration(ctx context.Context, caller model.Caller, domainID string) (Result, error) {
	d, err := e.load(ctx, caller, policy.ActionManageEmail, domainID)
	if err != nil {
		return Result{}, err
	}
	switch {
	case !d.Verified():
		return Result{}, apperr.Validation("domain ownership is not verified")
	case d.Email == model.EmailDisabled:
		return Result{}, apperr.Validation("email service is not enabled")
	case d.Email == model.EmailEnabledVerified:
		return Result{Domain: d, Verified: true}, nil
	}

	proven, err := e.proveEmail(ctx, d)
	if err != nil {
		e.observe("email", OutcomeLookupFailed)
		return Result{}, err
	}
	if !proven {
		e.observe("email", OutcomeUnverified)
		return Result{Domain: d, Expected: e.emailRecords(d)}, nil
	}

	if d, err = e.apply(ctx, d, model.EventEmailProven); err != nil {
		return Result{}, err
	}
	e.observe("email", OutcomeVerified)
	e.event(ctx, caller, "domain.email.verify", d.ID, audit.OutcomeSuccess)
	return Result{Domain: d, Verified: true}, nil
}

// DeleteDomain removes every provider record backing the domain, then the
// domain and its aliases. A provider failure keeps the domain. Domains still
// serving short links cannot be deleted.
func (e *Engine) DeleteDomain(ctx context.Context, caller model.Caller, domainID string) error {
	d, err := e.load(ctx, caller, policy.ActionDeleteDomain, domainID)
	if err != nil {
		return err
	}

	links, err := e.store.DomainLinks(ctx, d.Name, 1)
	if err != nil {
		return apperr.Internal("failed to load short links", apperr.WithCause(err))
	}
	if len(links) > 0 {
		return apperr.Validation("domain still serves short links")
	}

	backing := store.Pages(ctx, store.MaxPageSize, func(ctx context.Context, p store.Page) ([]model.DNSRecord, error) {
		return e.store.ListRecords(ctx, store.RecordFilter{CustomDomainID: d.ID}, p)
	}, func(r model.DNSRecord) string { return r.ID })
	var recs []model.DNSRecord
	for rec, err := range backing {
		if err != nil {
			return apperr.Internal("failed to load domain records", apperr.WithCause(err))
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		if err := e.records.Delete(ctx, rec); err != nil {
			e.event(ctx, caller, "domain.delete", d.ID, audit.OutcomeFailure)
			return err
		}
	}

	if err := e.store.DeleteDomain(ctx, d.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal("failed to delete domain", apperr.WithCause(err))
	}
	e.logger.InfoContext(ctx, "domain deleted",
		slog.String("domain_id", d.ID),
		slog.String("domain", d.Name),
		slog.Int("records", len(recs)),
	)
	e.event(ctx, caller, "domain.delete", d.ID, audit.OutcomeSuccess)
	return nil
}

// GetDomain returns a domain the caller may read, together with the records
// still missing for its current state.
func (e *Engine) GetDomain(ctx context.Context, caller model.Caller, domainID string) (Result, error) {
	d, err := e.load(ctx, caller, policy.ActionReadDomain, domainID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Domain: d, Verified: d.Verified()}
	switch {
	case !d.Verified():
		res.Expected = e.ownershipRecords(d)
	case d.Email != model.EmailDisabled:
		res.Expected = e.emailRecords(d)
	}
	return res, nil
}

// ListDomains lists userID's domains. An empty userID means the caller.
func (e *Engine) ListDomains(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.CustomDomain, error) {
	owner, ok := e.policy.Owner(caller, userID)
	if !ok || !e.policy.CanPerform(caller, policy.ActionReadDomain, policy.Owned(owner)) {
		return nil, apperr.Unauthorized("not allowed to list domains for this user")
	}
	ds, err := e.store.ListDomains(ctx, owner, page)
	if err != nil {
		return nil, apperr.Internal("failed to list domains", apperr.WithCause(err))
	}
	return ds, nil
}

// load fetches a domain and authorizes action on it. Domains owned by
// someone else look absent to callers that cannot act for others.
func (e *Engine) load(ctx context.Context, caller model.Caller, action policy.Action, domainID string) (model.CustomDomain, error) {
	d, err := e.store.GetDomain(ctx, domainID)
	if errors.Is(err, store.ErrNotFound) {
		return d, apperr.NotFound("domain not found")
	}
	if err != nil {
		return d, apperr.Internal("failed to load domain", apperr.WithCause(err))
	}
	if !e.policy.CanPerform(caller, action, policy.Owned(d.UserID)) {
		if d.UserID != caller.UserID {
			return model.CustomDomain{}, apperr.NotFound("domain not found")
		}
		return model.CustomDomain{}, apperr.Unauthorized("action not allowed")
	}
	return d, nil
}

func (e *Engine) ownershipName(d model.CustomDomain) string {
	return e.cfg.VerifyPrefix + "." + d.Name
}

func (e *Engine) ownershipRecords(d model.CustomDomain) []ExpectedRecord {
	return []ExpectedRecord{{Type: "TXT", Name: e.ownershipName(d), Value: d.VerificationKey}}
}

func (e *Engine) reportName(d model.CustomDomain) string {
	return d.Name + "._report._dmarc." + dnsverify.Normalize(e.cfg.SystemZone.Name)
}

func (e *Engine) emailRecords(d model.CustomDomain) []ExpectedRecord {
	prio := uint16(10)
	out := []ExpectedRecord{
		{Type: "MX", Name: d.Name, Value: e.cfg.MXHost, Priority: &prio},
		{Type: "TXT", Name: d.Name, Value: "v=spf1 include:" + e.cfg.SPFInclude + " ~all"},
	}
	dmarc := "v=DMARC1; p=quarantine"
	if e.cfg.DMARCReportAddress != "" {
		dmarc += "; rua=mailto:" + e.cfg.DMARCReportAddress
	}
	return append(out, ExpectedRecord{Type: "TXT", Name: "_dmarc." + d.Name, Value: dmarc})
}

// proveOwnership reports whether the verification key is published.
// Only resolver failures are returned as errors.
func (e *Engine) proveOwnership(ctx context.Context, d model.CustomDomain) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	err := dnsverify.HasTXT(ctx, e.resolver, e.ownershipName(d), d.VerificationKey)
	return e.proof(ctx, d, "ownership", err)
}

func (e *Engine) proveEmail(ctx context.Context, d model.CustomDomain) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	if err := dnsverify.HasMX(ctx, e.resolver, d.Name, e.cfg.MXHost); err != nil {
		return e.proof(ctx, d, "mx", err)
	}
	policySPF, err := dnsverify.LookupSPF(ctx, e.resolver, d.Name)
	if err != nil {
		return e.proof(ctx, d, "spf", err)
	}
	if e.cfg.SPFInclude != "" && !policySPF.Includes(e.cfg.SPFInclude) {
		return false, nil
	}
	if e.cfg.OutboundIP == nil {
		return true, nil
	}

	res, err := e.spf.CheckSPF(ctx, e.cfg.OutboundIP, d.Name)
	switch {
	case res == spf.TempError:
		return false, apperr.DNSLookup("spf evaluation failed", apperr.WithCause(err))
	case res != spf.Pass:
		e.logger.DebugContext(ctx, "spf policy does not authorize outbound ip",
			slog.String("domain", d.Name),
			slog.String("result", string(res)),
		)
		return false, nil
	}
	return true, nil
}

func (e *Engine) proof(ctx context.Context, d model.CustomDomain, check string, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, dnsverify.ErrDNSLookupFailed):
		e.logger.WarnContext(ctx, "dns lookup failed",
			slog.String("domain_id", d.ID),
			slog.String("domain", d.Name),
			slog.String("check", check),
			slog.Any("error", err),
		)
		return false, apperr.DNSLookup("dns lookup failed", apperr.WithCause(err))
	}
	return false, nil
}

// promote marks the domain verified unless another account got there first.
func (e *Engine) promote(ctx context.Context, d model.CustomDomain) (model.CustomDomain, error) {
	taken, err := e.store.VerifiedNameTaken(ctx, d.Name, d.UserID)
	if err != nil {
		return d, apperr.Internal("failed to check domain", apperr.WithCause(err))
	}
	if taken {
		return d, apperr.Duplicate("domain is verified by another account")
	}
	return e.apply(ctx, d, model.EventOwnershipProven)
}

// apply computes the transition and writes it conditionally. A concurrent
// writer causes one reload and retry; if the reloaded domain already is in
// the target state the call succeeds.
func (e *Engine) apply(ctx context.Context, d model.CustomDomain, ev model.Event) (model.CustomDomain, error) {
	for range 2 {
		next, err := model.Transition(d, ev, e.now().UTC())
		if errors.Is(err, model.ErrNoChange) {
			return d, nil
		}
		if err != nil {
			return d, apperr.Validation("domain is not in a state that allows this operation", apperr.WithCause(err))
		}

		err = e.store.UpdateDomainState(ctx, next, d.State())
		switch {
		case err == nil:
			e.logger.InfoContext(ctx, "domain state changed",
				slog.String("domain_id", d.ID),
				slog.String("event", string(ev)),
				slog.String("ownership", string(next.Ownership)),
				slog.String("email", string(next.Email)),
			)
			return next, nil
		case errors.Is(err, store.ErrDuplicate):
			return d, apperr.Duplicate("domain is verified by another account")
		case errors.Is(err, store.ErrConflict):
			if d, err = e.store.GetDomain(ctx, d.ID); err != nil {
				return d, apperr.Internal("failed to reload domain", apperr.WithCause(err))
			}
		default:
			return d, apperr.Internal("failed to update domain", apperr.WithCause(err))
		}
	}
	return d, apperr.Internal("domain state keeps changing concurrently")
}

// ensureReportAuthorization publishes the DMARC external report
// authorization record for d in the system zone, once.
func (e *Engine) ensureReportAuthorization(ctx context.Context, d model.CustomDomain) error {
	if e.cfg.SystemZone.Name == "" {
		return nil
	}
	name := e.reportName(d)
	existing, err := e.store.ListRecords(ctx, store.RecordFilter{
		CustomDomainID: d.ID,
		Purpose:        model.PurposeDomain,
		Type:           "TXT",
		Name:           name,
	}, store.Page{Limit: 1})
	if err != nil {
		return apperr.Internal("failed to load domain records", apperr.WithCause(err))
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = e.records.Create(ctx, reconciler.Spec{
		Zone:           e.cfg.SystemZone,
		UserID:         d.UserID,
		CustomDomainID: d.ID,
		Purpose:        model.PurposeDomain,
		Type:           "TXT",
		Name:           name,
		Content:        "v=DMARC1",
		TTL:            1,
		Comment:        "dmarc report authorization for " + d.Name,
	})
	if errors.Is(err, apperr.ErrDuplicateResource) {
		// Another request authorized the domain first.
		return nil
	}
	return err
}

func (e *Engine) event(ctx context.Context, caller model.Caller, action, target, outcome string) {
	e.sink.Record(ctx, audit.Event{
		Action:   action,
		ActorID:  caller.UserID,
		TargetID: target,
		Outcome:  outcome,
	})
}

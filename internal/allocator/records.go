package allocator

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
)

// RecordStore is the persistence user DNS records need.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (model.DNSRecord, error)
	ListRecords(ctx context.Context, f store.RecordFilter, page store.Page) ([]model.DNSRecord, error)
}

// RecordInput creates a record in the service zone. Name may be relative
// to the zone or fully qualified.
type RecordInput struct {
	UserID   string  `json:"user_id,omitempty"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Content  string  `json:"content"`
	TTL      int     `json:"ttl,omitempty"`
	Proxied  bool    `json:"proxied,omitempty"`
	Priority *uint16 `json:"priority,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

// Records allocates user-managed DNS records in the service zone.
type Records struct {
	base
	store RecordStore
	rec   Reconciler
	zone  dnsprovider.Zone
}

func NewRecords(s RecordStore, quota Quota, rec Reconciler, zone dnsprovider.Zone, opts ...Option) *Records {
	zone.Name = dnsverify.Normalize(zone.Name)
	return &Records{base: newBase(quota, opts), store: s, rec: rec, zone: zone}
}

// qualify returns name as a host below the zone, or "" when it is the apex
// or outside the zone.
func (r *Records) qualify(name string) string {
	name = dnsverify.Normalize(name)
	if name == "" || name == r.zone.Name {
		return ""
	}
	if !strings.HasSuffix(name, "."+r.zone.Name) {
		name += "." + r.zone.Name
	}
	sub := strings.TrimSuffix(name, "."+r.zone.Name)
	for i, l := range strings.Split(sub, ".") {
		switch {
		case validLabel(l):
		case i == 0 && l == "*":
		case strings.HasPrefix(l, "_") && validLabel(strings.ReplaceAll(l[1:], "_", "-")):
		default:
			return ""
		}
	}
	return name
}

// reservedName reports whether any label of name below the zone is reserved.
func (r *Records) reservedName(name string) bool {
	sub := strings.TrimSuffix(name, "."+r.zone.Name)
	for _, l := range strings.Split(sub, ".") {
		for _, res := range r.reserved {
			if strings.EqualFold(l, strings.Trim(res, ".")) {
				return true
			}
		}
	}
	return false
}

// Create provisions a record for the owner and mirrors it.
func (r *Records) Create(ctx context.Context, caller model.Caller, in RecordInput) (model.DNSRecord, error) {
	owner, err := r.owner(caller, in.UserID, policy.ActionManageDNSRecords)
	if err != nil {
		return model.DNSRecord{}, err
	}

	typ := strings.ToUpper(strings.TrimSpace(in.Type))
	name := r.qualify(in.Name)
	fe := apperr.FieldErrors{}
	if !recordTypes[typ] {
		fe["type"] = "must be one of A, AAAA, CNAME, TXT, MX"
	} else if msg := validContent(typ, in.Content); msg != "" {
		fe["content"] = msg
	}
	switch {
	case name == "":
		fe["name"] = "must be a host below " + r.zone.Name
	case r.reservedName(name):
		fe["name"] = "uses a label reserved for domain verification and DMARC reporting"
	}
	if !validTTL(in.TTL) {
		fe["ttl"] = "must be 1 or between 60 and 86400"
	}
	if typ == "MX" && in.Priority == nil {
		fe["priority"] = "is required for MX records"
	}
	if in.Proxied && typ != "A" && typ != "AAAA" && typ != "CNAME" {
		fe["proxied"] = "only A, AAAA and CNAME records can be proxied"
	}
	if err := fe.Err("invalid dns record"); err != nil {
		return model.DNSRecord{}, err
	}

	// A name already used by another account stays with that account.
	taken, err := r.store.ListRecords(ctx, store.RecordFilter{ZoneID: r.zone.ID, ZoneName: r.zone.Name, Name: name}, store.Page{Limit: store.MaxPageSize})
	if err != nil {
		return model.DNSRecord{}, apperr.Internal("failed to load dns records", apperr.WithCause(err))
	}
	for _, t := range taken {
		if t.UserID != owner || t.Purpose != model.PurposeUser || typ == "CNAME" || t.Type == "CNAME" {
			return model.DNSRecord{}, apperr.Duplicate("record name is already in use")
		}
	}

	if err := r.quota.Check(ctx, caller, owner, model.KindDNSRecords); err != nil {
		return model.DNSRecord{}, err
	}

	rec, err := r.rec.Create(ctx, reconciler.Spec{
		Zone:     r.zone,
		UserID:   owner,
		Purpose:  model.PurposeUser,
		Type:     typ,
		Name:     name,
		Content:  strings.TrimSpace(in.Content),
		TTL:      in.TTL,
		Proxied:  in.Proxied,
		Priority: in.Priority,
		Comment:  in.Comment,
	})
	if err != nil {
		return model.DNSRecord{}, err
	}
	r.event(ctx, caller, "dns.user_record.create", rec.ID)
	return rec, nil
}

// load fetches an active user record and authorizes action on it.
// Records the service manages itself are not reachable here.
func (r *Records) load(ctx context.Context, caller model.Caller, recordID string) (model.DNSRecord, error) {
	rec, err := r.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (!rec.Active || rec.Purpose != model.PurposeUser)) {
		return model.DNSRecord{}, apperr.NotFound("dns record not found")
	}
	if err != nil {
		return rec, apperr.Internal("failed to load dns record", apperr.WithCause(err))
	}
	if err := r.authorize(caller, policy.ActionManageDNSRecords, rec.UserID, "dns record"); err != nil {
		return model.DNSRecord{}, err
	}
	return rec, nil
}

// Update changes content, TTL, proxying, priority or comment.
func (r *Records) Update(ctx context.Context, caller model.Caller, recordID string, change reconciler.Change) (model.DNSRecord, error) {
	rec, err := r.load(ctx, caller, recordID)
	if err != nil {
		return model.DNSRecord{}, err
	}
	fe := apperr.FieldErrors{}
	if change.Content != nil {
		if msg := validContent(rec.Type, *change.Content); msg != "" {
			fe["content"] = msg
		}
	}
	if change.TTL != nil && !validTTL(*change.TTL) {
		fe["ttl"] = "must be 1 or between 60 and 86400"
	}
	if change.Proxied != nil && *change.Proxied && rec.Type != "A" && rec.Type != "AAAA" && rec.Type != "CNAME" {
		fe["proxied"] = "only A, AAAA and CNAME records can be proxied"
	}
	if err := fe.Err("invalid dns record"); err != nil {
		return model.DNSRecord{}, err
	}

	next, err := r.rec.Update(ctx, rec, change)
	if err != nil {
		return model.DNSRecord{}, err
	}
	r.event(ctx, caller, "dns.user_record.update", rec.ID)
	return next, nil
}

// Delete removes the record at the provider, then locally.
func (r *Records) Delete(ctx context.Context, caller model.Caller, recordID string) error {
	rec, err := r.load(ctx, caller, recordID)
	if err != nil {
		return err
	}
	if err := r.rec.Delete(ctx, rec); err != nil {
		return err
	}
	r.event(ctx, caller, "dns.user_record.delete", rec.ID)
	return nil
}

// List lists userID's records. An empty userID means the caller.
func (r *Records) List(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.DNSRecord, error) {
	owner, err := r.owner(caller, userID, policy.ActionManageDNSRecords)
	if err != nil {
		return nil, err
	}
	out, err := r.store.ListRecords(ctx, store.RecordFilter{UserID: owner, Purpose: model.PurposeUser}, page)
	if err != nil {
		return nil, apperr.Internal("failed to list dns records", apperr.WithCause(err))
	}
	return out, nil
}

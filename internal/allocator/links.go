package allocator

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/cache"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/dnsverify"
	"github.com/dmitrymomot/provisioner/pkg/hostrouter"
	"github.com/dmitrymomot/provisioner/pkg/id"
)

// LinkStore is the persistence short links need.
type LinkStore interface {
	store.Links
	ListDomains(ctx context.Context, userID string, page store.Page) ([]model.CustomDomain, error)
	ListRecords(ctx context.Context, f store.RecordFilter, page store.Page) ([]model.DNSRecord, error)
}

// LinksConfig describes the short-link namespace.
type LinksConfig struct {
	// Zone is the system short-link zone. Prefixes in it get a CNAME.
	Zone dnsprovider.Zone
	// EdgeTarget is the host prefix CNAMEs point at.
	EdgeTarget string
	SlugLength int
	CacheTTL   time.Duration
}

// LinkInput creates a short link. An empty Domain means the system zone,
// an empty Slug a random one.
type LinkInput struct {
	UserID    string     `json:"user_id,omitempty"`
	Prefix    string     `json:"prefix,omitempty"`
	Domain    string     `json:"domain,omitempty"`
	Slug      string     `json:"slug,omitempty"`
	TargetURL string     `json:"target_url"`
	Public    bool       `json:"public"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Password  string     `json:"password,omitempty"`
}

// LinkUpdate changes a short link. Nil fields keep their value; an empty
// Password removes protection and ClearExpiry removes the expiry.
type LinkUpdate struct {
	TargetURL   *string    `json:"target_url,omitempty"`
	Public      *bool      `json:"public,omitempty"`
	Active      *bool      `json:"active,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
	Password    *string    `json:"password,omitempty"`
}

// Resolution is a resolvable link as served by the redirect endpoint.
type Resolution struct {
	LinkID       string     `json:"id"`
	TargetURL    string     `json:"target_url"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
}

func (r Resolution) resolvable(now time.Time) bool {
	return r.Active && (r.ExpiresAt == nil || now.Before(*r.ExpiresAt))
}

// Links allocates short links.
type Links struct {
	base
	store   LinkStore
	records Reconciler
	cache   cache.Cache[Resolution]
	cfg     LinksConfig
	// prefixes serializes link creation and deletion per prefix so the
	// shared CNAME is never dropped under a new link.
	prefixes keyedMutex
}

// NewLinks creates the short-link allocator. A nil cache means an
// in-process cache.
func NewLinks(s LinkStore, quota Quota, records Reconciler, c cache.Cache[Resolution], cfg LinksConfig, opts ...Option) *Links {
	if cfg.SlugLength <= 0 {
		cfg.SlugLength = 7
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	cfg.Zone.Name = dnsverify.Normalize(cfg.Zone.Name)
	if c == nil {
		c = cache.NewMemory[Resolution](cache.WithDefaultTTL(cfg.CacheTTL))
	}
	return &Links{base: newBase(quota, opts), store: s, records: records, cache: c, cfg: cfg}
}

func cacheKey(prefix, domain, slug string) string {
	return prefix + "|" + domain + "|" + slug
}

// Create validates and stores a new link. A prefix on the system zone is
// backed by a CNAME shared by all of its owner's links.
func (l *Links) Create(ctx context.Context, caller model.Caller, in LinkInput) (model.ShortURL, error) {
	owner, err := l.owner(caller, in.UserID, policy.ActionManageLinks)
	if err != nil {
		return model.ShortURL{}, err
	}

	link := model.ShortURL{
		ID:        id.NewULID(),
		UserID:    owner,
		Prefix:    dnsverify.Normalize(in.Prefix),
		Domain:    dnsverify.Normalize(in.Domain),
		Slug:      in.Slug,
		TargetURL: in.TargetURL,
		Public:    in.Public,
		Active:    true,
		ExpiresAt: in.ExpiresAt,
	}
	if link.Domain == "" {
		link.Domain = l.cfg.Zone.Name
	}
	if err := l.validate(link, in.Password, in.Slug != ""); err != nil {
		return model.ShortURL{}, err
	}
	if link.Domain != l.cfg.Zone.Name {
		if err := l.requireCustomDomain(ctx, owner, link.Domain); err != nil {
			return model.ShortURL{}, err
		}
	}

	if err := l.quota.Check(ctx, caller, owner, model.KindShortLinks); err != nil {
		return model.ShortURL{}, err
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.ShortURL{}, apperr.Internal("failed to hash password", apperr.WithCause(err))
		}
		link.PasswordHash = string(hash)
	}

	if link.Prefix != "" {
		defer l.prefixes.Lock(link.Prefix + "." + link.Domain)()
	}
	created, err := l.ensurePrefix(ctx, &link)
	if err != nil {
		return model.ShortURL{}, err
	}

	if err := l.insert(ctx, &link, in.Slug == ""); err != nil {
		if created != nil {
			l.releasePrefix(ctx, *created)
		}
		return model.ShortURL{}, err
	}

	// A failed invalidation is only logged: new links have no cached entry
	// worth serving and a miss is never cached.
	_ = l.invalidate(ctx, link)
	l.logger.InfoContext(ctx, "short link created",
		slog.String("link_id", link.ID),
		slog.String("user_id", owner),
		slog.String("domain", link.Domain),
		slog.String("prefix", link.Prefix),
	)
	l.event(ctx, caller, "link.create", link.ID)
	return link, nil
}

func (l *Links) validate(link model.ShortURL, password string, explicitSlug bool) error {
	fe := apperr.FieldErrors{}
	if !validTarget(link.TargetURL) {
		fe["target_url"] = "must be an absolute http or https URL"
	}
	if explicitSlug && !validSlug(link.Slug) {
		fe["slug"] = "must be 1 to 64 letters, digits, '-' or '_'"
	}
	switch {
	case link.Prefix == "":
	case link.Domain != l.cfg.Zone.Name:
		fe["prefix"] = "is only available on the system short-link zone"
	case !validLabel(link.Prefix):
		fe["prefix"] = "must be a single DNS label"
	}
	if link.Domain == "" {
		fe["domain"] = "short-link zone is not configured"
	}
	if link.ExpiresAt != nil && !link.ExpiresAt.After(l.now()) {
		fe["expires_at"] = "must be in the future"
	}
	if password != "" && len(password) < 4 {
		fe["password"] = "must be at least 4 characters"
	}
	return fe.Err("invalid short link")
}

// requireCustomDomain checks that owner holds name verified.
func (l *Links) requireCustomDomain(ctx context.Context, owner, name string) error {
	domains := store.Pages(ctx, store.MaxPageSize, func(ctx context.Context, p store.Page) ([]model.CustomDomain, error) {
		return l.store.ListDomains(ctx, owner, p)
	}, func(d model.CustomDomain) string { return d.ID })
	for d, err := range domains {
		if err != nil {
			return apperr.Internal("failed to load domains", apperr.WithCause(err))
		}
		if d.Name == name {
			if !d.Verified() {
				return apperr.Validation("domain ownership is not verified")
			}
			return nil
		}
	}
	return apperr.FieldErrors{"domain": "not a verified domain of this account"}.Err("invalid short link")
}

// prefixRecords returns the active CNAME rows backing prefix.
func (l *Links) prefixRecords(ctx context.Context, prefix string) ([]model.DNSRecord, error) {
	recs, err := l.store.ListRecords(ctx, store.RecordFilter{
		ZoneID:   l.cfg.Zone.ID,
		ZoneName: l.cfg.Zone.Name,
		Purpose:  model.PurposeShortLink,
		Name:     prefix + "." + l.cfg.Zone.Name,
	}, store.Page{Limit: store.MaxPageSize})
	if err != nil {
		return nil, apperr.Internal("failed to load prefix record", apperr.WithCause(err))
	}
	return recs, nil
}

// ensurePrefix links the prefix CNAME to link, creating it when no active
// record backs the prefix. It returns the record when this call created it.
func (l *Links) ensurePrefix(ctx context.Context, link *model.ShortURL) (*model.DNSRecord, error) {
	if link.Prefix == "" {
		return nil, nil
	}
	existing, err := l.store.PrefixLinks(ctx, link.Prefix, link.Domain, 1)
	if err != nil {
		return nil, apperr.Internal("failed to load prefix", apperr.WithCause(err))
	}
	if len(existing) > 0 && existing[0].UserID != link.UserID {
		return nil, apperr.Duplicate("prefix is used by another account")
	}
	recs, err := l.prefixRecords(ctx, link.Prefix)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		link.DNSRecordID = recs[0].ID
		return nil, nil
	}

	rec, err := l.records.Create(ctx, reconciler.Spec{
		Zone:    l.cfg.Zone,
		UserID:  link.UserID,
		Purpose: model.PurposeShortLink,
		Type:    "CNAME",
		Name:    link.Prefix + "." + l.cfg.Zone.Name,
		Content: l.cfg.EdgeTarget,
		TTL:     1,
		Proxied: true,
		Comment: "short link prefix " + link.Prefix,
	})
	if errors.Is(err, apperr.ErrDuplicateResource) {
		// Created concurrently by another instance.
		if recs, err = l.prefixRecords(ctx, link.Prefix); err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, apperr.Internal("prefix record vanished after duplicate create")
		}
		link.DNSRecordID = recs[0].ID
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	link.DNSRecordID = rec.ID
	return &rec, nil
}

// releasePrefix removes a CNAME created for a link that was never stored.
func (l *Links) releasePrefix(ctx context.Context, rec model.DNSRecord) {
	if err := l.records.Delete(ctx, rec); err != nil {
		l.logger.ErrorContext(ctx, "failed to release unused prefix record",
			slog.String("record_id", rec.ID),
			slog.String("name", rec.Name),
			slog.Any("error", err),
		)
	}
}

// insert stores link. Generated slugs are retried on collision.
func (l *Links) insert(ctx context.Context, link *model.ShortURL, generate bool) error {
	attempts := 1
	if generate {
		attempts = 5
	}
	for range attempts {
		if generate {
			slug, err := id.NewSlug(l.cfg.SlugLength)
			if err != nil {
				return apperr.Internal("failed to generate slug", apperr.WithCause(err))
			}
			link.Slug = slug
		}
		now := l.now().UTC()
		link.CreatedAt, link.UpdatedAt = now, now

		err := l.store.CreateLink(ctx, *link)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, store.ErrDuplicate):
			return apperr.Internal("failed to store short link", apperr.WithCause(err))
		}
	}
	return apperr.Duplicate("slug is already taken")
}

// Get returns a link the caller may read.
func (l *Links) Get(ctx context.Context, caller model.Caller, linkID string) (model.ShortURL, error) {
	return l.load(ctx, caller, policy.ActionReadLinks, linkID)
}

func (l *Links) load(ctx context.Context, caller model.Caller, action policy.Action, linkID string) (model.ShortURL, error) {
	link, err := l.store.GetLink(ctx, linkID)
	if errors.Is(err, store.ErrNotFound) {
		return link, apperr.NotFound("short link not found")
	}
	if err != nil {
		return link, apperr.Internal("failed to load short link", apperr.WithCause(err))
	}
	if err := l.authorize(caller, action, link.UserID, "short link"); err != nil {
		return model.ShortURL{}, err
	}
	return link, nil
}

// List lists userID's links. An empty userID means the caller.
func (l *Links) List(ctx context.Context, caller model.Caller, userID string, page store.Page) ([]model.ShortURL, error) {
	owner, err := l.owner(caller, userID, policy.ActionReadLinks)
	if err != nil {
		return nil, err
	}
	links, err := l.store.ListLinks(ctx, owner, page)
	if err != nil {
		return nil, apperr.Internal("failed to list short links", apperr.WithCause(err))
	}
	return links, nil
}

// Export streams every link of userID page by page.
func (l *Links) Export(ctx context.Context, caller model.Caller, userID string) (iter.Seq2[model.ShortURL, error], error) {
	owner, err := l.owner(caller, userID, policy.ActionReadLinks)
	if err != nil {
		return nil, err
	}
	return store.Pages(ctx, store.MaxPageSize, func(ctx context.Context, p store.Page) ([]model.ShortURL, error) {
		return l.store.ListLinks(ctx, owner, p)
	}, func(s model.ShortURL) string { return s.ID }), nil
}

// Update changes a link and drops its cached resolution.
func (l *Links) Update(ctx context.Context, caller model.Caller, linkID string, up LinkUpdate) (model.ShortURL, error) {
	link, err := l.load(ctx, caller, policy.ActionManageLinks, linkID)
	if err != nil {
		return model.ShortURL{}, err
	}

	fe := apperr.FieldErrors{}
	if up.TargetURL != nil {
		if !validTarget(*up.TargetURL) {
			fe["target_url"] = "must be an absolute http or https URL"
		}
		link.TargetURL = *up.TargetURL
	}
	if up.Public != nil {
		link.Public = *up.Public
	}
	if up.Active != nil {
		link.Active = *up.Active
	}
	switch {
	case up.ClearExpiry:
		link.ExpiresAt = nil
	case up.ExpiresAt != nil:
		if !up.ExpiresAt.After(l.now()) {
			fe["expires_at"] = "must be in the future"
		}
		link.ExpiresAt = up.ExpiresAt
	}
	if up.Password != nil {
		switch pw := *up.Password; {
		case pw == "":
			link.PasswordHash = ""
		case len(pw) < 4:
			fe["password"] = "must be at least 4 characters"
		default:
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				return model.ShortURL{}, apperr.Internal("failed to hash password", apperr.WithCause(err))
			}
			link.PasswordHash = string(hash)
		}
	}
	if err := fe.Err("invalid short link"); err != nil {
		return model.ShortURL{}, err
	}

	link.UpdatedAt = l.now().UTC()
	if err := l.store.UpdateLink(ctx, link); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.ShortURL{}, apperr.NotFound("short link not found")
		}
		return model.ShortURL{}, apperr.Internal("failed to update short link", apperr.WithCause(err))
	}
	if err := l.invalidate(ctx, link); err != nil {
		return model.ShortURL{}, err
	}
	l.event(ctx, caller, "link.update", link.ID)
	return link, nil
}

// Delete removes a link. When it is the last link on its prefix the
// prefix CNAME is deleted first; a provider failure keeps the link.
func (l *Links) Delete(ctx context.Context, caller model.Caller, linkID string) error {
	link, err := l.load(ctx, caller, policy.ActionManageLinks, linkID)
	if err != nil {
		return err
	}

	if link.Prefix != "" {
		defer l.prefixes.Lock(link.Prefix + "." + link.Domain)()
		peers, err := l.store.PrefixLinks(ctx, link.Prefix, link.Domain, 2)
		if err != nil {
			return apperr.Internal("failed to load prefix", apperr.WithCause(err))
		}
		last := true
		for _, p := range peers {
			if p.ID != link.ID {
				last = false
			}
		}
		if last {
			if err := l.dropPrefix(ctx, link.Prefix); err != nil {
				return err
			}
		}
	}

	if err := l.store.DeleteLink(ctx, link.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal("failed to delete short link", apperr.WithCause(err))
	}
	if err := l.invalidate(ctx, link); err != nil {
		return err
	}
	l.event(ctx, caller, "link.delete", link.ID)
	return nil
}

// dropPrefix deletes every active CNAME backing prefix.
func (l *Links) dropPrefix(ctx context.Context, prefix string) error {
	recs, err := l.prefixRecords(ctx, prefix)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := l.records.Delete(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// invalidate drops the cached resolution of link. A failure leaves a stale
// redirect served until the entry expires, so it is logged and reported.
func (l *Links) invalidate(ctx context.Context, link model.ShortURL) error {
	err := l.cache.Delete(ctx, cacheKey(link.Prefix, link.Domain, link.Slug))
	if err == nil || errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	l.logger.ErrorContext(ctx, "failed to invalidate cached short link",
		slog.String("link_id", link.ID),
		slog.String("domain", link.Domain),
		slog.String("slug", link.Slug),
		slog.Duration("stale_for", l.cfg.CacheTTL),
		slog.Any("error", err),
	)
	return apperr.Internal("short link changed but its cached redirect could not be invalidated", apperr.WithCause(err))
}

// Resolve finds the link served at host/slug. Expired, inactive and
// unknown links are NotFound. Protected links need the right password.
func (l *Links) Resolve(ctx context.Context, host, slug, password string) (Resolution, error) {
	if !slugPattern.MatchString(slug) {
		return Resolution{}, apperr.NotFound("short link not found")
	}
	for _, key := range hostrouter.Candidates(host, l.cfg.Zone.Name) {
		res, err := cache.GetOrSet(ctx, l.cache, cacheKey(key.Prefix, key.Domain, slug), func(ctx context.Context) (Resolution, time.Duration, error) {
			link, err := l.store.FindLink(ctx, key.Prefix, key.Domain, slug)
			if err != nil {
				return Resolution{}, 0, err
			}
			ttl := l.cfg.CacheTTL
			if link.ExpiresAt != nil {
				ttl = min(ttl, link.ExpiresAt.Sub(l.now()))
			}
			return Resolution{
				LinkID:       link.ID,
				TargetURL:    link.TargetURL,
				Active:       link.Active,
				ExpiresAt:    link.ExpiresAt,
				PasswordHash: link.PasswordHash,
			}, max(ttl, time.Second), nil
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, apperr.Internal("failed to resolve short link", apperr.WithCause(err))
		}
		if !res.resolvable(l.now()) {
			return Resolution{}, apperr.NotFound("short link not found")
		}
		if res.PasswordHash != "" {
			if password == "" {
				return Resolution{}, apperr.Unauthenticated("password required")
			}
			if bcrypt.CompareHashAndPassword([]byte(res.PasswordHash), []byte(password)) != nil {
				return Resolution{}, apperr.Unauthorized("invalid password")
			}
		}
		return res, nil
	}
	return Resolution{}, apperr.NotFound("short link not found")
}

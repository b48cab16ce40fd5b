// Package store defines persistence for the provisioning core.
//
// Two implementations exist: postgres (pgx, goose migrations) for
// production and sqlite (gorm) for single-node deployments and tests.
// Both enforce uniqueness with indexes and apply domain state changes
// as compare-and-swap updates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/provisioner/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a compare-and-swap finds a different state.
	ErrConflict = errors.New("store: state changed concurrently")

	ErrUnknownKind = errors.New("store: unknown resource kind")
)

// Page is a keyset page request. Results are ordered by ID ascending and
// start strictly after After.
type Page struct {
	Limit int
	After string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Size clamps the page size into [1, MaxPageSize].
func (p Page) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	}
	return p.Limit
}

// RecordFilter selects mirrored DNS records. Zero fields match anything.
type RecordFilter struct {
	UserID         string
	CustomDomainID string
	ZoneID         string
	ZoneName       string
	Purpose        model.RecordPurpose
	Type           string
	Name           string
	// IncludeInactive also returns deactivated rows.
	IncludeInactive bool
}

type Domains interface {
	CreateDomain(ctx context.Context, d model.CustomDomain) error
	GetDomain(ctx context.Context, id string) (model.CustomDomain, error)
	ListDomains(ctx context.Context, userID string, page Page) ([]model.CustomDomain, error)
	// UpdateDomainState writes next only if the stored state equals expected.
	UpdateDomainState(ctx context.Context, next model.CustomDomain, expected model.State) error
	// DeleteDomain removes the domain together with its email aliases.
	DeleteDomain(ctx context.Context, id string) error
	// VerifiedNameTaken reports whether another account holds name verified.
	VerifiedNameTaken(ctx context.Context, name, exceptUserID string) (bool, error)
}

type Records interface {
	// InsertRecord returns ErrDuplicate when an active domain or short-link
	// record with the same zone, name and type already exists.
	InsertRecord(ctx context.Context, r model.DNSRecord) error
	GetRecord(ctx context.Context, id string) (model.DNSRecord, error)
	// UpdateRecord overwrites the mirrored fields of an active record.
	UpdateRecord(ctx context.Context, r model.DNSRecord) error
	DeactivateRecord(ctx context.Context, id string, at time.Time) error
	ListRecords(ctx context.Context, f RecordFilter, page Page) ([]model.DNSRecord, error)
}

type Links interface {
	CreateLink(ctx context.Context, l model.ShortURL) error
	GetLink(ctx context.Context, id string) (model.ShortURL, error)
	FindLink(ctx context.Context, prefix, domain, slug string) (model.ShortURL, error)
	UpdateLink(ctx context.Context, l model.ShortURL) error
	DeleteLink(ctx context.Context, id string) error
	ListLinks(ctx context.Context, userID string, page Page) ([]model.ShortURL, error)
	// PrefixLinks returns up to limit links on a (prefix, domain) namespace.
	PrefixLinks(ctx context.Context, prefix, domain string, limit int) ([]model.ShortURL, error)
	// DomainLinks returns up to limit links on domain under any prefix.
	DomainLinks(ctx context.Context, domain string, limit int) ([]model.ShortURL, error)
}

type Aliases interface {
	CreateAlias(ctx context.Context, a model.EmailAlias) error
	GetAlias(ctx context.Context, id string) (model.EmailAlias, error)
	DeleteAlias(ctx context.Context, id string) error
	ListAliases(ctx context.Context, customDomainID string, page Page) ([]model.EmailAlias, error)
}

// UserPlans remembers the plan tier each user last authenticated with.
type UserPlans interface {
	// UserPlan returns ErrNotFound for a user never seen.
	UserPlan(ctx context.Context, userID string) (string, error)
	// SetUserPlan inserts or replaces the user's plan.
	SetUserPlan(ctx context.Context, userID, plan string, at time.Time) error
}

// Store is the full persistence contract.
type Store interface {
	Domains
	Records
	Links
	Aliases
	UserPlans

	// CountCreatedSince counts existing rows of kind owned by userID
	// created at or after since. dns_records counts user-managed records only.
	CountCreatedSince(ctx context.Context, userID string, kind model.ResourceKind, since time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

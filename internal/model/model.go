// Package model holds the provisioning entities and the domain state machine.
package model

import (
	"log/slog"
	"time"
)

// Role of an authenticated caller.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID string
	Role   Role
	Plan   string
}

// Elevated reports whether the caller may act on other users' resources.
func (c Caller) Elevated() bool { return c.Role == RoleAdmin }

func (c Caller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("role", string(c.Role)),
	)
}

// ResourceKind names a quota-gated resource.
type ResourceKind string

const (
	KindCustomDomains ResourceKind = "custom_domains"
	KindShortLinks    ResourceKind = "short_links"
	KindDNSRecords    ResourceKind = "dns_records"
	KindEmailAliases  ResourceKind = "email_aliases"
)

// Kinds lists every quota-gated resource kind.
var Kinds = []ResourceKind{KindCustomDomains, KindShortLinks, KindDNSRecords, KindEmailAliases}

// RecordPurpose tells why a mirrored record exists.
type RecordPurpose string

const (
	// PurposeUser is a record managed directly by a user.
	PurposeUser RecordPurpose = "user"
	// PurposeShortLink is the shared CNAME behind a short-link prefix.
	PurposeShortLink RecordPurpose = "short_link"
	// PurposeDomain backs a custom domain service (e.g. DMARC authorization).
	PurposeDomain RecordPurpose = "domain"
	// PurposeSystem is a record the service manages for itself.
	PurposeSystem RecordPurpose = "system"
)

// DNSRecord mirrors a record held by the DNS provider.
// UserID is empty for system records.
type DNSRecord struct {
	ID             string
	RemoteID       string
	ZoneID         string
	ZoneName       string
	UserID         string
	CustomDomainID string
	Purpose        RecordPurpose
	Type           string
	Name           string
	Content        string
	Proxied        bool
	TTL            int
	Priority       *uint16
	Comment        string
	Tags           []string
	Active         bool
	ModifiedAt     time.Time
	CreatedAt      time.Time
}

// ShortURL is a redirect served at <prefix>.<domain>/<slug>.
type ShortURL struct {
	ID           string
	UserID       string
	Prefix       string
	Domain       string
	Slug         string
	TargetURL    string
	Public       bool
	Active       bool
	ExpiresAt    *time.Time
	PasswordHash string
	DNSRecordID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Resolvable reports whether the link may redirect at now.
func (s ShortURL) Resolvable(now time.Time) bool {
	if !s.Active {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// Protected reports whether the link requires a password.
func (s ShortURL) Protected() bool { return s.PasswordHash != "" }

// EmailAlias forwards <LocalPart>@<domain> to Destination.
type EmailAlias struct {
	ID             string
	UserID         string
	CustomDomainID string
	LocalPart      string
	Destination    string
	Active         bool
	CreatedAt      time.Time
}

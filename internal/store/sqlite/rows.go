package sqlite

import (
	"time"

	"github.com/dmitrymomot/provisioner/internal/model"
)

type domainRow struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"not null;uniqueIndex:idx_domains_user_name,priority:1"`
	Name            string `gorm:"not null;uniqueIndex:idx_domains_user_name,priority:2"`
	VerificationKey string `gorm:"not null"`
	Ownership       string `gorm:"not null"`
	Email           string `gorm:"not null"`
	VerifiedAt      *time.Time
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (domainRow) TableName() string { return "custom_domains" }

func toDomainRow(d model.CustomDomain) domainRow {
	return domainRow{
		ID:              d.ID,
		UserID:          d.UserID,
		Name:            d.Name,
		VerificationKey: d.VerificationKey,
		Ownership:       string(d.Ownership),
		Email:           string(d.Email),
		VerifiedAt:      utcPtr(d.VerifiedAt),
		EmailVerifiedAt: utcPtr(d.EmailVerifiedAt),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func (r domainRow) model() model.CustomDomain {
	return model.CustomDomain{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		VerificationKey: r.VerificationKey,
		Ownership:       model.Ownership(r.Ownership),
		Email:           model.EmailState(r.Email),
		VerifiedAt:      r.VerifiedAt,
		EmailVerifiedAt: r.EmailVerifiedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type recordRow struct {
	ID             string `gorm:"primaryKey"`
	RemoteID       string `gorm:"not null;index"`
	ZoneID         string `gorm:"not null;index"`
	ZoneName       string `gorm:"not null"`
	UserID         string `gorm:"index"`
	CustomDomainID string `gorm:"index"`
	Purpose        string `gorm:"not null"`
	Type           string `gorm:"not null"`
	Name           string `gorm:"not null"`
	Content        string `gorm:"not null"`
	Proxied        bool
	TTL            int
	Priority       *uint16
	Comment        string
	Tags           []string `gorm:"serializer:json"`
	Active         bool     `gorm:"not null;index"`
	ModifiedAt     time.Time
	CreatedAt      time.Time `gorm:"not null;index;autoCreateTime:false"`
}

func (recordRow) TableName() string { return "dns_records" }

func toRecordRow(r model.DNSRecord) recordRow {
	return recordRow{
		ID:             r.ID,
		RemoteID:       r.RemoteID,
		ZoneID:         r.ZoneID,
		ZoneName:       r.ZoneName,
		UserID:         r.UserID,
		CustomDomainID: r.CustomDomainID,
		Purpose:        string(r.Purpose),
		Type:           r.Type,
		Name:           r.Name,
		Content:        r.Content,
		Proxied:        r.Proxied,
		TTL:            r.TTL,
		Priority:       r.Priority,
		Comment:        r.Comment,
		Tags:           r.Tags,
		Active:         r.Active,
		ModifiedAt:     r.ModifiedAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (r recordRow) model() model.DNSRecord {
	return model.DNSRecord{
		ID:             r.ID,
		RemoteID:       r.RemoteID,
		ZoneID:         r.ZoneID,
		ZoneName:       r.ZoneName,
		UserID:         r.UserID,
		CustomDomainID: r.CustomDomainID,
		Purpose:        model.RecordPurpose(r.Purpose),
		Type:           r.Type,
		Name:           r.Name,
		Content:        r.Content,
		Proxied:        r.Proxied,
		TTL:            r.TTL,
		Priority:       r.Priority,
		Comment:        r.Comment,
		Tags:           r.Tags,
		Active:         r.Active,
		ModifiedAt:     r.ModifiedAt,
		CreatedAt:      r.CreatedAt,
	}
}

type linkRow struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Prefix       string `gorm:"not null;uniqueIndex:idx_links_namespace_slug,priority:1"`
	Domain       string `gorm:"not null;uniqueIndex:idx_links_namespace_slug,priority:2"`
	Slug         string `gorm:"not null;uniqueIndex:idx_links_namespace_slug,priority:3"`
	TargetURL    string `gorm:"not null"`
	Public       bool
	Active       bool
	ExpiresAt    *time.Time
	PasswordHash string
	DNSRecordID  string
	CreatedAt    time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (linkRow) TableName() string { return "short_urls" }

func toLinkRow(l model.ShortURL) linkRow {
	return linkRow{
		ID:           l.ID,
		UserID:       l.UserID,
		Prefix:       l.Prefix,
		Domain:       l.Domain,
		Slug:         l.Slug,
		TargetURL:    l.TargetURL,
		Public:       l.Public,
		Active:       l.Active,
		ExpiresAt:    utcPtr(l.ExpiresAt),
		PasswordHash: l.PasswordHash,
		DNSRecordID:  l.DNSRecordID,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
	}
}

func (r linkRow) model() model.ShortURL {
	return model.ShortURL{
		ID:           r.ID,
		UserID:       r.UserID,
		Prefix:       r.Prefix,
		Domain:       r.Domain,
		Slug:         r.Slug,
		TargetURL:    r.TargetURL,
		Public:       r.Public,
		Active:       r.Active,
		ExpiresAt:    r.ExpiresAt,
		PasswordHash: r.PasswordHash,
		DNSRecordID:  r.DNSRecordID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type aliasRow struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"not null;index"`
	CustomDomainID string `gorm:"not null;uniqueIndex:idx_aliases_domain_local,priority:1"`
	LocalPart      string `gorm:"not null;uniqueIndex:idx_aliases_domain_local,priority:2"`
	Destination    string `gorm:"not null"`
	Active         bool
	CreatedAt      time.Time `gorm:"not null;index;autoCreateTime:false"`
}

func (aliasRow) TableName() string { return "email_aliases" }

func toAliasRow(a model.EmailAlias) aliasRow {
	return aliasRow{
		ID:             a.ID,
		UserID:         a.UserID,
		CustomDomainID: a.CustomDomainID,
		LocalPart:      a.LocalPart,
		Destination:    a.Destination,
		Active:         a.Active,
		CreatedAt:      a.CreatedAt.UTC(),
	}
}

func (r aliasRow) model() model.EmailAlias {
	return model.EmailAlias{
		ID:             r.ID,
		UserID:         r.UserID,
		CustomDomainID: r.CustomDomainID,
		LocalPart:      r.LocalPart,
		Destination:    r.Destination,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type planRow struct {
	UserID    string    `gorm:"primaryKey"`
	Plan      string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (planRow) TableName() string { return "user_plans" }

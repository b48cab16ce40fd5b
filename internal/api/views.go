package api

import (
	"time"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/verification"
)

type domainView struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Name            string           `json:"name"`
	VerificationKey string           `json:"verification_key"`
	Ownership       model.Ownership  `json:"ownership"`
	Email           model.EmailState `json:"email"`
	VerifiedAt      *time.Time       `json:"verified_at,omitempty"`
	EmailVerifiedAt *time.Time       `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func viewDomain(d model.CustomDomain) domainView {
	return domainView{
		ID:              d.ID,
		UserID:          d.UserID,
		Name:            d.Name,
		VerificationKey: d.VerificationKey,
		Ownership:       d.Ownership,
		Email:           d.Email,
		VerifiedAt:      d.VerifiedAt,
		EmailVerifiedAt: d.EmailVerifiedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// resultView tells the client whether the proof was found and, if not,
// which records to publish.
type resultView struct {
	Domain   domainView                    `json:"domain"`
	Verified bool                          `json:"verified"`
	Expected []verification.ExpectedRecord `json:"expected,omitempty"`
}

func viewResult(r verification.Result) resultView {
	return resultView{Domain: viewDomain(r.Domain), Verified: r.Verified, Expected: r.Expected}
}

type linkView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Prefix    string     `json:"prefix,omitempty"`
	Domain    string     `json:"domain,omitempty"`
	Slug      string     `json:"slug"`
	TargetURL string     `json:"target_url"`
	Public    bool       `json:"public"`
	Active    bool       `json:"active"`
	Protected bool       `json:"protected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func viewLink(l model.ShortURL) linkView {
	return linkView{
		ID:        l.ID,
		UserID:    l.UserID,
		Prefix:    l.Prefix,
		Domain:    l.Domain,
		Slug:      l.Slug,
		TargetURL: l.TargetURL,
		Public:    l.Public,
		Active:    l.Active,
		Protected: l.Protected(),
		ExpiresAt: l.ExpiresAt,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

type aliasView struct {
	ID          string    `json:"id"`
	DomainID    string    `json:"domain_id"`
	LocalPart   string    `json:"local_part"`
	Destination string    `json:"destination"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewAlias(a model.EmailAlias) aliasView {
	return aliasView{
		ID:          a.ID,
		DomainID:    a.CustomDomainID,
		LocalPart:   a.LocalPart,
		Destination: a.Destination,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
	}
}

type recordView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	TTL        int       `json:"ttl"`
	Proxied    bool      `json:"proxied"`
	Priority   *uint16   `json:"priority,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewRecord(r model.DNSRecord) recordView {
	return recordView{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       r.Type,
		Name:       r.Name,
		Content:    r.Content,
		TTL:        r.TTL,
		Proxied:    r.Proxied,
		Priority:   r.Priority,
		Comment:    r.Comment,
		ModifiedAt: r.ModifiedAt,
		CreatedAt:  r.CreatedAt,
	}
}

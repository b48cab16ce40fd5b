package allocator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/id"
)

// AliasStore is the persistence email aliases need.
type AliasStore interface {
	store.Aliases
	GetDomain(ctx context.Context, id string) (model.CustomDomain, error)
}

// AliasInput creates <LocalPart>@<domain> forwarding to Destination.
type AliasInput struct {
	LocalPart   string `json:"local_part"`
	Destination string `json:"destination"`
}

// Aliases allocates email aliases on custom domains.
type Aliases struct {
	base
	store AliasStore
}

func NewAliases(s AliasStore, quota Quota, opts ...Option) *Aliases {
	return &Aliases{base: newBase(quota, opts), store: s}
}

func (a *Aliases) domain(ctx context.Context, caller model.Caller, action policy.Action, domainID string) (model.CustomDomain, error) {
	d, err := a.store.GetDomain(ctx, domainID)
	if errors.Is(err, store.ErrNotFound) {
		return d, apperr.NotFound("domain not found")
	}
	if err != nil {
		return d, apperr.Internal("failed to load domain", apperr.WithCause(err))
	}
	if err := a.authorize(caller, action, d.UserID, "domain"); err != nil {
		return model.CustomDomain{}, err
	}
	return d, nil
}

// Create adds an alias on domainID. The domain's email service must be
// enabled and verified.
func (a *Aliases) Create(ctx context.Context, caller model.Caller, domainID string, in AliasInput) (model.EmailAlias, error) {
	d, err := a.domain(ctx, caller, policy.ActionManageAliases, domainID)
	if err != nil {
		return model.EmailAlias{}, err
	}
	if d.Email != model.EmailEnabledVerified {
		return model.EmailAlias{}, apperr.Validation("email service is not verified for this domain")
	}

	fe := apperr.FieldErrors{}
	local, ok := normalizeLocalPart(in.LocalPart)
	if !ok {
		fe["local_part"] = "is not a valid mailbox name"
	}
	dest, ok := validDestination(in.Destination)
	if !ok {
		fe["destination"] = "must be an email address"
	}
	if err := fe.Err("invalid email alias"); err != nil {
		return model.EmailAlias{}, err
	}

	if err := a.quota.Check(ctx, caller, d.UserID, model.KindEmailAliases); err != nil {
		return model.EmailAlias{}, err
	}

	alias := model.EmailAlias{
		ID:             id.NewULID(),
		UserID:         d.UserID,
		CustomDomainID: d.ID,
		LocalPart:      local,
		Destination:    dest,
		Active:         true,
		CreatedAt:      a.now().UTC(),
	}
	if err := a.store.CreateAlias(ctx, alias); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.EmailAlias{}, apperr.Duplicate("alias already exists")
		}
		return model.EmailAlias{}, apperr.Internal("failed to store alias", apperr.WithCause(err))
	}

	a.logger.InfoContext(ctx, "email alias created",
		slog.String("alias_id", alias.ID),
		slog.String("domain_id", d.ID),
	)
	a.event(ctx, caller, "alias.create", alias.ID, slog.String("domain_id", d.ID))
	return alias, nil
}

// Delete removes an alias.
func (a *Aliases) Delete(ctx context.Context, caller model.Caller, aliasID string) error {
	alias, err := a.store.GetAlias(ctx, aliasID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("alias not found")
	}
	if err != nil {
		return apperr.Internal("failed to load alias", apperr.WithCause(err))
	}
	if err := a.authorize(caller, policy.ActionManageAliases, alias.UserID, "alias"); err != nil {
		return err
	}
	if err := a.store.DeleteAlias(ctx, alias.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal("failed to delete alias", apperr.WithCause(err))
	}
	a.event(ctx, caller, "alias.delete", alias.ID)
	return nil
}

// List lists the aliases of domainID.
func (a *Aliases) List(ctx context.Context, caller model.Caller, domainID string, page store.Page) ([]model.EmailAlias, error) {
	d, err := a.domain(ctx, caller, policy.ActionReadDomain, domainID)
	if err != nil {
		return nil, err
	}
	out, err := a.store.ListAliases(ctx, d.ID, page)
	if err != nil {
		return nil, apperr.Internal("failed to list aliases", apperr.WithCause(err))
	}
	return out, nil
}

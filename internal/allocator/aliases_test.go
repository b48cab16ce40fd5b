package allocator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
)

func TestAliasRequiresVerifiedEmail(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	in := allocator.AliasInput{LocalPart: "info", Destination: "me@example.org"}
	for _, d := range []model.CustomDomain{
		e.domain(t, "u1", "a.com", model.OwnershipUnverified, model.EmailDisabled),
		e.domain(t, "u1", "b.com", model.OwnershipVerified, model.EmailDisabled),
		e.domain(t, "u1", "c.com", model.OwnershipVerified, model.EmailEnabledUnverified),
	} {
		_, err := e.aliases.Create(ctx, user, d.ID, in)
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, d.Name)
	}
}

func TestAliasLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	d := e.domain(t, "u1", "mail.com", model.OwnershipVerified, model.EmailEnabledVerified)

	alias, err := e.aliases.Create(ctx, user, d.ID, allocator.AliasInput{LocalPart: " John.Doe ", Destination: "john@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "john.doe", alias.LocalPart)
	assert.Equal(t, "u1", alias.UserID)
	assert.True(t, alias.Active)

	_, err = e.aliases.Create(ctx, user, d.ID, allocator.AliasInput{LocalPart: "JOHN.DOE", Destination: "x@example.org"})
	require.ErrorIs(t, err, apperr.ErrDuplicateResource)

	for _, bad := range []allocator.AliasInput{
		{LocalPart: ".john", Destination: "john@example.org"},
		{LocalPart: "jo..hn", Destination: "john@example.org"},
		{LocalPart: "jo hn", Destination: "john@example.org"},
		{LocalPart: "john", Destination: "not-an-address"},
		{LocalPart: "john", Destination: "John <john@example.org>"},
	} {
		_, err := e.aliases.Create(ctx, user, d.ID, bad)
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, bad.LocalPart+" "+bad.Destination)
	}

	_, err = e.aliases.Create(ctx, user, d.ID, allocator.AliasInput{LocalPart: "sales+eu", Destination: "sales@example.org"})
	require.NoError(t, err)
	_, err = e.aliases.Create(ctx, user, d.ID, allocator.AliasInput{LocalPart: "third", Destination: "x@example.org"})
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	list, err := e.aliases.List(ctx, user, d.ID, store.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = e.aliases.List(ctx, other, d.ID, store.Page{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, e.aliases.Delete(ctx, other, alias.ID), apperr.ErrNotFound)

	require.NoError(t, e.aliases.Delete(ctx, user, alias.ID))
	assert.ErrorIs(t, e.aliases.Delete(ctx, user, alias.ID), apperr.ErrNotFound)
}

func TestAliasForOtherUsersDomain(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	d := e.domain(t, "u2", "theirs.com", model.OwnershipVerified, model.EmailEnabledVerified)

	in := allocator.AliasInput{LocalPart: "info", Destination: "me@example.org"}
	_, err := e.aliases.Create(ctx, user, d.ID, in)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	alias, err := e.aliases.Create(ctx, admin, d.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "u2", alias.UserID, "owned by the domain owner")
}

package allocator_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/quota"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
)

func TestCreateLinkOnZoneApex(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	link, err := e.links.Create(ctx, user, allocator.LinkInput{TargetURL: "https://example.org/a"})
	require.NoError(t, err)
	assert.Equal(t, "u1", link.UserID)
	assert.Equal(t, "s.example", link.Domain)
	assert.Empty(t, link.Prefix)
	assert.Len(t, link.Slug, 7)
	assert.Empty(t, link.DNSRecordID)
	assert.Empty(t, e.provider.Calls(), "apex links need no dns record")

	res, err := e.links.Resolve(ctx, "S.Example:443", link.Slug, "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/a", res.TargetURL)
	assert.Equal(t, link.ID, res.LinkID)
}

func TestPrefixRecordIsShared(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.links.Create(ctx, user, allocator.LinkInput{Prefix: "Go", Slug: "a", TargetURL: "https://example.org/a"})
	require.NoError(t, err)
	b, err := e.links.Create(ctx, user, allocator.LinkInput{Prefix: "go", Slug: "b", TargetURL: "https://example.org/b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"create:CNAME:go.s.example"}, e.provider.Calls())
	require.NotEmpty(t, a.DNSRecordID)
	assert.Equal(t, a.DNSRecordID, b.DNSRecordID)

	remote := e.provider.Records(zone)
	require.Len(t, remote, 1)
	assert.Equal(t, "edge.example.net", remote[0].Content)

	res, err := e.links.Resolve(ctx, "go.s.example", "b", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/b", res.TargetURL)

	_, err = e.links.Create(ctx, other, allocator.LinkInput{Prefix: "go", Slug: "c", TargetURL: "https://example.org/c"})
	require.ErrorIs(t, err, apperr.ErrDuplicateResource)

	require.NoError(t, e.links.Delete(ctx, user, a.ID))
	assert.Len(t, e.provider.Records(zone), 1, "record kept while the prefix has links")

	require.NoError(t, e.links.Delete(ctx, user, b.ID))
	assert.Empty(t, e.provider.Records(zone))
	rows, err := e.store.ListRecords(ctx, store.RecordFilter{ZoneID: zone.ID}, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteLinkWhenRecordRemovedOutOfBand(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	link, err := e.links.Create(ctx, user, allocator.LinkInput{Prefix: "go", Slug: "a", TargetURL: "https://example.org/a"})
	require.NoError(t, err)
	rec, err := e.store.GetRecord(ctx, link.DNSRecordID)
	require.NoError(t, err)

	require.NoError(t, e.provider.DeleteRecord(ctx, zone, rec.RemoteID))
	require.Empty(t, e.provider.Records(zone))

	require.NoError(t, e.links.Delete(ctx, user, link.ID))
	assert.Contains(t, e.provider.Calls(), "delete:"+rec.RemoteID)

	_, err = e.links.Get(ctx, user, link.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	rec, err = e.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, rec.Active)
}

func TestCreateLinkProviderFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.provider.FailNext("create", &dnsprovider.ProviderError{Op: "create record", Status: http.StatusBadRequest, Message: "invalid name"})
	_, err := e.links.Create(ctx, user, allocator.LinkInput{Prefix: "go", Slug: "a", TargetURL: "https://example.org/a"})
	require.ErrorIs(t, err, apperr.ErrProviderRejected)

	links, err := e.links.List(ctx, user, "", store.Page{})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestSlugUniquePerNamespace(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.links.Create(ctx, user, allocator.LinkInput{Slug: "same", TargetURL: "https://example.org/a"})
	require.NoError(t, err)
	_, err = e.links.Create(ctx, user, allocator.LinkInput{Slug: "same", TargetURL: "https://example.org/b"})
	require.ErrorIs(t, err, apperr.ErrDuplicateResource)

	_, err = e.links.Create(ctx, user, allocator.LinkInput{Prefix: "go", Slug: "same", TargetURL: "https://example.org/c"})
	require.NoError(t, err)
}

func TestDeleteLastLinkProviderFailureKeepsLink(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	link, err := e.links.Create(ctx, user, allocator.LinkInput{Prefix: "go", Slug: "a", TargetURL: "https://example.org/a"})
	require.NoError(t, err)

	e.provider.FailNext("delete", &dnsprovider.ProviderError{Op: "delete record", Status: http.StatusBadGateway})
	err = e.links.Delete(ctx, user, link.ID)
	require.ErrorIs(t, err, apperr.ErrProviderRejected)

	_, err = e.links.Get(ctx, user, link.ID)
	require.NoError(t, err)
	assert.Len(t, e.provider.Records(zone), 1)
}

func TestResolveHonoursStateAndPassword(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	exp := e.clock.Now().Add(time.Hour)
	link, err := e.links.Create(ctx, user, allocator.LinkInput{
		Slug:      "secret",
		TargetURL: "https://example.org/s",
		ExpiresAt: &exp,
		Password:  "hunter2",
	})
	require.NoError(t, err)
	assert.True(t, link.Protected())

	_, err = e.links.Resolve(ctx, "s.example", "secret", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = e.links.Resolve(ctx, "s.example", "secret", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = e.links.Resolve(ctx, "s.example", "secret", "hunter2")
	require.NoError(t, err)

	empty := ""
	_, err = e.links.Update(ctx, user, link.ID, allocator.LinkUpdate{Password: &empty})
	require.NoError(t, err)
	_, err = e.links.Resolve(ctx, "s.example", "secret", "")
	require.NoError(t, err, "cache dropped on update")

	inactive := false
	_, err = e.links.Update(ctx, user, link.ID, allocator.LinkUpdate{Active: &inactive})
	require.NoError(t, err)
	_, err = e.links.Resolve(ctx, "s.example", "secret", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	active := true
	_, err = e.links.Update(ctx, user, link.ID, allocator.LinkUpdate{Active: &active})
	require.NoError(t, err)
	e.clock.Advance(2 * time.Hour)
	_, err = e.links.Resolve(ctx, "s.example", "secret", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "expired")

	_, err = e.links.Resolve(ctx, "s.example", "missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.links.Resolve(ctx, "s.example", "../etc", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLinkValidationAndQuota(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	past := e.clock.Now().Add(-time.Minute)
	for name, in := range map[string]allocator.LinkInput{
		"relative url": {TargetURL: "/local"},
		"bad scheme":   {TargetURL: "javascript:alert(1)"},
		"bad slug":     {Slug: "a b", TargetURL: "https://example.org"},
		"reserved":     {Slug: "api", TargetURL: "https://example.org"},
		"bad prefix":   {Prefix: "a.b", TargetURL: "https://example.org"},
		"past expiry":  {TargetURL: "https://example.org", ExpiresAt: &past},
		"short pw":     {TargetURL: "https://example.org", Password: "abc"},
	} {
		_, err := e.links.Create(ctx, user, in)
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, name)
	}

	for range 3 {
		_, err := e.links.Create(ctx, user, allocator.LinkInput{TargetURL: "https://example.org"})
		require.NoError(t, err)
	}
	_, err := e.links.Create(ctx, user, allocator.LinkInput{TargetURL: "https://example.org"})
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	denial, ok := quota.DenialOf(err)
	require.True(t, ok)
	assert.Equal(t, 3, denial.Used)
	assert.Equal(t, model.KindShortLinks, denial.Kind)
}

func TestCustomDomainLinks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.domain(t, "u1", "pending.com", model.OwnershipUnverified, model.EmailDisabled)
	e.domain(t, "u1", "brand.com", model.OwnershipVerified, model.EmailDisabled)
	e.domain(t, "u2", "theirs.com", model.OwnershipVerified, model.EmailDisabled)

	_, err := e.links.Create(ctx, user, allocator.LinkInput{Domain: "pending.com", TargetURL: "https://example.org"})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)
	_, err = e.links.Create(ctx, user, allocator.LinkInput{Domain: "theirs.com", TargetURL: "https://example.org"})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	link, err := e.links.Create(ctx, user, allocator.LinkInput{Domain: "Brand.com", Slug: "x", TargetURL: "https://example.org/x"})
	require.NoError(t, err)
	assert.Empty(t, link.DNSRecordID)
	assert.Empty(t, e.provider.Calls())

	res, err := e.links.Resolve(ctx, "brand.com", "x", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/x", res.TargetURL)

	_, err = e.links.Create(ctx, user, allocator.LinkInput{Domain: "brand.com", Prefix: "go", Slug: "y", TargetURL: "https://example.org/y"})
	require.ErrorIs(t, err, apperr.ErrValidationFailed, "prefixes exist only on the system zone")
	_, err = e.links.Resolve(ctx, "go.brand.com", "y", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	onDomain, err := e.store.DomainLinks(ctx, "brand.com", 10)
	require.NoError(t, err)
	assert.Len(t, onDomain, 1)
}

func TestLinkOwnership(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	link, err := e.links.Create(ctx, user, allocator.LinkInput{TargetURL: "https://example.org"})
	require.NoError(t, err)

	_, err = e.links.Get(ctx, other, link.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, e.links.Delete(ctx, other, link.ID), apperr.ErrNotFound)
	_, err = e.links.List(ctx, other, "u1", store.Page{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	got, err := e.links.Get(ctx, admin, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.ID, got.ID)

	byAdmin, err := e.links.Create(ctx, admin, allocator.LinkInput{UserID: "u2", TargetURL: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, "u2", byAdmin.UserID)

	seq, err := e.links.Export(ctx, user, "")
	require.NoError(t, err)
	var ids []string
	for l, err := range seq {
		require.NoError(t, err)
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{link.ID}, ids)
}

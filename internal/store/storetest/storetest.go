// Package storetest is a conformance suite run against every store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/id"
)

// Opener returns a fresh, migrated, empty store.
type Opener func(t *testing.T) store.Store

var base = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	t.Run("domains", func(t *testing.T) { testDomains(t, open(t)) })
	t.Run("domain state cas", func(t *testing.T) { testDomainCAS(t, open(t)) })
	t.Run("verified name unique", func(t *testing.T) { testVerifiedNameUnique(t, open(t)) })
	t.Run("records", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("links", func(t *testing.T) { testLinks(t, open(t)) })
	t.Run("concurrent slug", func(t *testing.T) { testConcurrentSlug(t, open(t)) })
	t.Run("aliases", func(t *testing.T) { testAliases(t, open(t)) })
	t.Run("count created since", func(t *testing.T) { testCount(t, open(t)) })
	t.Run("user plans", func(t *testing.T) { testUserPlans(t, open(t)) })
}

func Domain(userID, name string, created time.Time) model.CustomDomain {
	return model.CustomDomain{
		ID:              id.NewULID(),
		UserID:          userID,
		Name:            name,
		VerificationKey: "key-" + name,
		Ownership:       model.OwnershipUnverified,
		Email:           model.EmailDisabled,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func Link(userID, prefix, domain, slug string) model.ShortURL {
	return model.ShortURL{
		ID:        id.NewULID(),
		UserID:    userID,
		Prefix:    prefix,
		Domain:    domain,
		Slug:      slug,
		TargetURL: "https://example.org/" + slug,
		Public:    true,
		Active:    true,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func Record(userID string, purpose model.RecordPurpose, name string) model.DNSRecord {
	return model.DNSRecord{
		ID:         id.NewULID(),
		RemoteID:   "remote-" + name,
		ZoneID:     "zone-1",
		ZoneName:   "short.example",
		UserID:     userID,
		Purpose:    purpose,
		Type:       "CNAME",
		Name:       name,
		Content:    "edge.example.net",
		TTL:        1,
		Tags:       []string{"provisioner"},
		Active:     true,
		ModifiedAt: base,
		CreatedAt:  base,
	}
}

func testDomains(t *testing.T, s store.Store) {
	ctx := context.Background()

	d := Domain("u1", "acme.com", base)
	require.NoError(t, s.CreateDomain(ctx, d))

	got, err := s.GetDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Name, got.Name)
	assert.Equal(t, d.VerificationKey, got.VerificationKey)
	assert.Equal(t, model.OwnershipUnverified, got.Ownership)
	assert.Equal(t, model.EmailDisabled, got.Email)
	assert.Nil(t, got.VerifiedAt)
	assert.True(t, d.CreatedAt.Equal(got.CreatedAt))

	dup := Domain("u1", "acme.com", base)
	require.ErrorIs(t, s.CreateDomain(ctx, dup), store.ErrDuplicate)

	// the same name under another account is allowed
	require.NoError(t, s.CreateDomain(ctx, Domain("u2", "acme.com", base)))

	for i := range 4 {
		require.NoError(t, s.CreateDomain(ctx, Domain("u1", fmt.Sprintf("d%d.com", i), base)))
	}
	var names []string
	for dom, err := range store.Pages(ctx, 2, func(ctx context.Context, p store.Page) ([]model.CustomDomain, error) {
		return s.ListDomains(ctx, "u1", p)
	}, func(d model.CustomDomain) string { return d.ID }) {
		require.NoError(t, err)
		names = append(names, dom.Name)
	}
	assert.Len(t, names, 5)

	require.NoError(t, s.DeleteDomain(ctx, d.ID))
	_, err = s.GetDomain(ctx, d.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteDomain(ctx, d.ID), store.ErrNotFound)
}

func testDomainCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	d := Domain("u1", "cas.com", base)
	require.NoError(t, s.CreateDomain(ctx, d))

	next, err := model.Transition(d, model.EventOwnershipProven, base.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.UpdateDomainState(ctx, next, d.State()))
	// a second writer holding the stale state loses
	require.ErrorIs(t, s.UpdateDomainState(ctx, next, d.State()), store.ErrConflict)

	got, err := s.GetDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OwnershipVerified, got.Ownership)
	require.NotNil(t, got.VerifiedAt)
	assert.True(t, next.VerifiedAt.Equal(*got.VerifiedAt))

	missing := next
	missing.ID = id.NewULID()
	require.ErrorIs(t, s.UpdateDomainState(ctx, missing, d.State()), store.ErrNotFound)
}

func testVerifiedNameUnique(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := Domain("u1", "shared.com", base)
	b := Domain("u2", "shared.com", base)
	require.NoError(t, s.CreateDomain(ctx, a))
	require.NoError(t, s.CreateDomain(ctx, b))

	taken, err := s.VerifiedNameTaken(ctx, "shared.com", "u2")
	require.NoError(t, err)
	assert.False(t, taken)

	va, err := model.Transition(a, model.EventOwnershipProven, base)
	require.NoError(t, err)
	require.NoError(t, s.UpdateDomainState(ctx, va, a.State()))

	taken, err = s.VerifiedNameTaken(ctx, "shared.com", "u2")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = s.VerifiedNameTaken(ctx, "shared.com", "u1")
	require.NoError(t, err)
	assert.False(t, taken)

	vb, err := model.Transition(b, model.EventOwnershipProven, base)
	require.NoError(t, err)
	require.ErrorIs(t, s.UpdateDomainState(ctx, vb, b.State()), store.ErrDuplicate)
}

func testRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	prio := uint16(10)
	r := Record("u1", model.PurposeUser, "www.short.example")
	r.Priority = &prio
	require.NoError(t, s.InsertRecord(ctx, r))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.RemoteID, got.RemoteID)
	assert.Equal(t, []string{"provisioner"}, got.Tags)
	require.NotNil(t, got.Priority)
	assert.Equal(t, prio, *got.Priority)
	assert.True(t, got.Active)

	got.Content = "other.example.net"
	got.Proxied = true
	got.ModifiedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateRecord(ctx, got))

	got, err = s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "other.example.net", got.Content)
	assert.True(t, got.Proxied)

	prefix := Record("u1", model.PurposeShortLink, "go.short.example")
	require.NoError(t, s.InsertRecord(ctx, prefix))
	twin := Record("u1", model.PurposeShortLink, "go.short.example")
	require.ErrorIs(t, s.InsertRecord(ctx, twin), store.ErrDuplicate)
	require.NoError(t, s.DeactivateRecord(ctx, prefix.ID, base))
	require.NoError(t, s.InsertRecord(ctx, twin), "inactive rows do not block a name")
	require.NoError(t, s.DeactivateRecord(ctx, twin.ID, base))

	sys := Record("", model.PurposeSystem, "_dmarc.short.example")
	require.NoError(t, s.InsertRecord(ctx, sys))

	list, err := s.ListRecords(ctx, store.RecordFilter{UserID: "u1"}, store.Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	list, err = s.ListRecords(ctx, store.RecordFilter{ZoneID: "zone-1"}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeactivateRecord(ctx, r.ID, base.Add(2*time.Hour)))
	list, err = s.ListRecords(ctx, store.RecordFilter{ZoneID: "zone-1"}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListRecords(ctx, store.RecordFilter{ZoneID: "zone-1", IncludeInactive: true}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, err = s.GetRecord(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeactivateRecord(ctx, "missing", base), store.ErrNotFound)
}

func testLinks(t *testing.T, s store.Store) {
	ctx := context.Background()

	l := Link("u1", "go", "short.example", "abc")
	exp := base.Add(24 * time.Hour)
	l.ExpiresAt = &exp
	l.PasswordHash = "hash"
	require.NoError(t, s.CreateLink(ctx, l))

	got, err := s.FindLink(ctx, "go", "short.example", "abc")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	assert.Equal(t, "hash", got.PasswordHash)

	require.ErrorIs(t, s.CreateLink(ctx, Link("u2", "go", "short.example", "abc")), store.ErrDuplicate)
	require.NoError(t, s.CreateLink(ctx, Link("u1", "", "short.example", "abc")))
	require.NoError(t, s.CreateLink(ctx, Link("u1", "go", "short.example", "xyz")))

	prefixed, err := s.PrefixLinks(ctx, "go", "short.example", 10)
	require.NoError(t, err)
	assert.Len(t, prefixed, 2)

	onDomain, err := s.DomainLinks(ctx, "short.example", 10)
	require.NoError(t, err)
	assert.Len(t, onDomain, 3)
	none, err := s.DomainLinks(ctx, "other.example", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	got.TargetURL = "https://example.org/new"
	got.Active = false
	got.ExpiresAt = nil
	require.NoError(t, s.UpdateLink(ctx, got))
	got, err = s.GetLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/new", got.TargetURL)
	assert.False(t, got.Active)
	assert.Nil(t, got.ExpiresAt)

	list, err := s.ListLinks(ctx, "u1", store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, s.DeleteLink(ctx, l.ID))
	_, err = s.FindLink(ctx, "go", "short.example", "abc")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteLink(ctx, l.ID), store.ErrNotFound)
}

func testConcurrentSlug(t *testing.T, s store.Store) {
	ctx := context.Background()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateLink(ctx, Link(fmt.Sprintf("u%d", i), "race", "short.example", "same"))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, store.ErrDuplicate)
	}
	assert.Equal(t, 1, ok)
}

func testAliases(t *testing.T, s store.Store) {
	ctx := context.Background()

	d := Domain("u1", "mail.com", base)
	require.NoError(t, s.CreateDomain(ctx, d))

	a := model.EmailAlias{ID: id.NewULID(), UserID: "u1", CustomDomainID: d.ID, LocalPart: "hello", Destination: "me@example.org", Active: true, CreatedAt: base}
	require.NoError(t, s.CreateAlias(ctx, a))

	dup := a
	dup.ID = id.NewULID()
	require.ErrorIs(t, s.CreateAlias(ctx, dup), store.ErrDuplicate)

	other := a
	other.ID = id.NewULID()
	other.LocalPart = "sales"
	require.NoError(t, s.CreateAlias(ctx, other))

	list, err := s.ListAliases(ctx, d.ID, store.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteAlias(ctx, a.ID))
	_, err = s.GetAlias(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteDomain(ctx, d.ID))
	list, err = s.ListAliases(ctx, d.ID, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testCount(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateDomain(ctx, Domain("u1", "old.com", base.AddDate(0, -2, 0))))
	require.NoError(t, s.CreateDomain(ctx, Domain("u1", "new.com", base)))
	require.NoError(t, s.CreateDomain(ctx, Domain("u2", "new.com", base)))

	n, err := s.CountCreatedSince(ctx, "u1", model.KindCustomDomains, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountCreatedSince(ctx, "u1", model.KindCustomDomains, base.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.InsertRecord(ctx, Record("u1", model.PurposeUser, "a.short.example")))
	require.NoError(t, s.InsertRecord(ctx, Record("u1", model.PurposeShortLink, "go.short.example")))
	gone := Record("u1", model.PurposeUser, "b.short.example")
	require.NoError(t, s.InsertRecord(ctx, gone))
	require.NoError(t, s.DeactivateRecord(ctx, gone.ID, base))

	n, err = s.CountCreatedSince(ctx, "u1", model.KindDNSRecords, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.CreateLink(ctx, Link("u1", "", "short.example", "one")))
	n, err = s.CountCreatedSince(ctx, "u1", model.KindShortLinks, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountCreatedSince(ctx, "u1", model.KindEmailAliases, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.CountCreatedSince(ctx, "u1", model.ResourceKind("bogus"), time.Time{})
	require.Error(t, err)
}

func testUserPlans(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.UserPlan(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetUserPlan(ctx, "u1", "free", base))
	require.NoError(t, s.SetUserPlan(ctx, "u2", "free", base))
	require.NoError(t, s.SetUserPlan(ctx, "u1", "pro", base.Add(time.Hour)))

	plan, err := s.UserPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", plan)

	plan, err = s.UserPlan(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "free", plan)
}

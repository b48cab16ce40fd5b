package allocator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/quota"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store/sqlite"
	"github.com/dmitrymomot/provisioner/internal/store/storetest"
	"github.com/dmitrymomot/provisioner/pkg/cache"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
)

var (
	zone  = dnsprovider.Zone{ID: "zone-1", Name: "s.example"}
	user  = model.Caller{UserID: "u1", Role: model.RoleUser, Plan: "free"}
	other = model.Caller{UserID: "u2", Role: model.RoleUser, Plan: "free"}
	admin = model.Caller{UserID: "admin", Role: model.RoleAdmin}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	store    *sqlite.Store
	provider *dnsprovider.Memory
	clock    *clock
	ledger   *quota.Ledger
	links    *allocator.Links
	aliases  *allocator.Aliases
	records  *allocator.Records
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	plans := quota.Plans{
		Default: "free",
		Tiers: map[string]quota.Plan{
			"free": {
				model.KindShortLinks:   {Max: 3, Window: quota.WindowAll},
				model.KindDNSRecords:   {Max: 2, Window: quota.WindowAll},
				model.KindEmailAliases: {Max: 2, Window: quota.WindowAll},
			},
		},
	}
	ledger := quota.New(plans, s, quota.WithClock(c.Now))
	provider := dnsprovider.NewMemory()
	rec := reconciler.New(provider, s, reconciler.WithClock(c.Now))

	e := &env{
		store:    s,
		provider: provider,
		clock:    c,
		ledger:   ledger,
		aliases:  allocator.NewAliases(s, ledger, allocator.WithClock(c.Now)),
		records:  allocator.NewRecords(s, ledger, rec, zone, allocator.WithClock(c.Now)),
	}
	e.links = e.linksWith(provider, nil)
	return e
}

// linksWith builds a link allocator over client and c sharing the env store.
func (e *env) linksWith(client dnsprovider.Client, c cache.Cache[allocator.Resolution], opts ...allocator.Option) *allocator.Links {
	rec := reconciler.New(client, e.store, reconciler.WithClock(e.clock.Now))
	opts = append([]allocator.Option{allocator.WithClock(e.clock.Now)}, opts...)
	return allocator.NewLinks(e.store, e.ledger, rec, c, allocator.LinksConfig{
		Zone:       zone,
		EdgeTarget: "edge.example.net",
	}, opts...)
}

// domain stores a custom domain for userID in the given state.
func (e *env) domain(t *testing.T, userID, name string, own model.Ownership, email model.EmailState) model.CustomDomain {
	t.Helper()
	d := storetest.Domain(userID, name, e.clock.Now())
	d.Ownership, d.Email = own, email
	require.NoError(t, e.store.CreateDomain(context.Background(), d))
	return d
}

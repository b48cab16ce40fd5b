package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
)

func TestCanPerform(t *testing.T) {
	t.Parallel()

	user := model.Caller{UserID: "u1", Role: model.RoleUser}
	admin := model.Caller{UserID: "a1", Role: model.RoleAdmin}

	tests := []struct {
		name   string
		caller model.Caller
		action policy.Action
		res    policy.Resource
		want   bool
	}{
		{"user registers for self", user, policy.ActionRegisterDomain, policy.Resource{}, true},
		{"user manages own link", user, policy.ActionManageLinks, policy.Owned("u1"), true},
		{"user manages foreign link", user, policy.ActionManageLinks, policy.Owned("u2"), false},
		{"user bypasses domain quota", user, policy.ActionBypassDomainQuota, policy.Resource{}, false},
		{"user audits dns", user, policy.ActionAuditDNS, policy.Resource{}, false},
		{"admin manages foreign link", admin, policy.ActionManageLinks, policy.Owned("u2"), true},
		{"admin bypasses domain quota", admin, policy.ActionBypassDomainQuota, policy.Resource{}, true},
		{"anonymous", model.Caller{Role: model.RoleUser}, policy.ActionReadDomain, policy.Resource{}, false},
		{"unknown role", model.Caller{UserID: "x", Role: "guest"}, policy.ActionReadDomain, policy.Resource{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, policy.CanPerform(tt.caller, tt.action, tt.res))
		})
	}
}

func TestCustomTable(t *testing.T) {
	t.Parallel()

	p := policy.New(policy.RolePermissions{"support": {policy.ActionReadDomain, policy.ActionActForOthers}})
	support := model.Caller{UserID: "s1", Role: "support"}

	assert.True(t, p.CanPerform(support, policy.ActionReadDomain, policy.Owned("u9")))
	assert.False(t, p.CanPerform(support, policy.ActionDeleteDomain, policy.Owned("u9")))
}

func TestOwner(t *testing.T) {
	t.Parallel()

	user := model.Caller{UserID: "u1", Role: model.RoleUser}
	admin := model.Caller{UserID: "a1", Role: model.RoleAdmin}

	owner, ok := policy.Owner(user, "")
	assert.True(t, ok)
	assert.Equal(t, "u1", owner)

	_, ok = policy.Owner(user, "u2")
	assert.False(t, ok)

	owner, ok = policy.Owner(admin, "u2")
	assert.True(t, ok)
	assert.Equal(t, "u2", owner)
}

func TestOwnerUsesPolicyTable(t *testing.T) {
	t.Parallel()

	p := policy.New(policy.RolePermissions{"support": {policy.ActionManageLinks, policy.ActionActForOthers}})
	support := model.Caller{UserID: "s1", Role: "support"}

	owner, ok := p.Owner(support, "u9")
	assert.True(t, ok)
	assert.Equal(t, "u9", owner)

	_, ok = policy.Owner(support, "u9")
	assert.False(t, ok, "the default table does not know the support role")

	admin := model.Caller{UserID: "a1", Role: model.RoleAdmin}
	_, ok = p.Owner(admin, "u9")
	assert.False(t, ok, "a table without admin grants denies admins")
}

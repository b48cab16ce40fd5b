// Package policy is the single authorization decision point.
//
// Every allocator and the verification engine ask CanPerform before doing
// anything else. Roles map to granted actions; owner-scoped actions also
// require the caller to own the resource unless the role grants the
// elevated variant.
package policy

import (
	"github.com/dmitrymomot/provisioner/internal/model"
)

// Action names an operation subject to authorization.
type Action string

const (
	ActionRegisterDomain    Action = "domain:register"
	ActionReadDomain        Action = "domain:read"
	ActionVerifyDomain      Action = "domain:verify"
	ActionDeleteDomain      Action = "domain:delete"
	ActionManageEmail       Action = "domain:email"
	ActionManageLinks       Action = "links:manage"
	ActionReadLinks         Action = "links:read"
	ActionManageAliases     Action = "aliases:manage"
	ActionManageDNSRecords  Action = "dns:manage"
	ActionReadUsage         Action = "usage:read"
	ActionBypassDomainQuota Action = "quota:bypass-domains"
	ActionActForOthers      Action = "users:impersonate"
	ActionAuditDNS          Action = "dns:audit"
)

// Resource identifies the target of an action. An empty OwnerID means the
// action is not scoped to an existing resource (e.g. create for self).
type Resource struct {
	OwnerID string
}

// Owned returns a resource owned by userID.
func Owned(userID string) Resource { return Resource{OwnerID: userID} }

// RolePermissions maps roles to granted actions.
type RolePermissions = map[model.Role][]Action

var userActions = []Action{
	ActionRegisterDomain,
	ActionReadDomain,
	ActionVerifyDomain,
	ActionDeleteDomain,
	ActionManageEmail,
	ActionManageLinks,
	ActionReadLinks,
	ActionManageAliases,
	ActionManageDNSRecords,
	ActionReadUsage,
}

// Default is the built-in role table.
var Default = RolePermissions{
	model.RoleUser:  userActions,
	model.RoleAdmin: append(append([]Action{}, userActions...), ActionBypassDomainQuota, ActionActForOthers, ActionAuditDNS),
}

var defaultPolicy = New(Default)

// Policy answers authorization questions against a role table.
type Policy struct {
	grants map[model.Role]map[Action]struct{}
}

// New builds a Policy from perms.
func New(perms RolePermissions) *Policy {
	p := &Policy{grants: make(map[model.Role]map[Action]struct{}, len(perms))}
	for role, actions := range perms {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		p.grants[role] = set
	}
	return p
}

func (p *Policy) granted(role model.Role, a Action) bool {
	_, ok := p.grants[role][a]
	return ok
}

// CanPerform reports whether caller may perform action on res.
// Acting on a resource owned by someone else additionally requires
// ActionActForOthers.
func (p *Policy) CanPerform(caller model.Caller, action Action, res Resource) bool {
	if caller.UserID == "" || !p.granted(caller.Role, action) {
		return false
	}
	if res.OwnerID == "" || res.OwnerID == caller.UserID {
		return true
	}
	return p.granted(caller.Role, ActionActForOthers)
}

// CanPerform checks against the default role table.
func CanPerform(caller model.Caller, action Action, res Resource) bool {
	return defaultPolicy.CanPerform(caller, action, res)
}

// Owner resolves owner against the default role table.
func Owner(caller model.Caller, requested string) (owner string, ok bool) {
	return defaultPolicy.Owner(caller, requested)
}

// Owner resolves the effective owner for a create request: the caller
// itself, or requested when the caller may act for other users.
// ok is false when requested names another user and the caller lacks the right.
func (p *Policy) Owner(caller model.Caller, requested string) (owner string, ok bool) {
	if requested == "" || requested == caller.UserID {
		return caller.UserID, caller.UserID != ""
	}
	if !p.CanPerform(caller, ActionActForOthers, Resource{}) {
		return "", false
	}
	return requested, true
}

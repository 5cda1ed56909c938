package access

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the closed set of operator roles. Unknown roles are rejected at
// validation time, never coerced to a default.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
)

// Capability names one class of privileged action.
type Capability string

const (
	CapViewUsers      Capability = "view_users"
	CapManagePayments Capability = "manage_payments"
	CapManagePlans    Capability = "manage_plans"
)

// grants enumerates the capability set of every role independently.
// There is no hierarchy: super_admin spells out each capability instead of
// inheriting admin's set, so adding a role or capability cannot leak
// privileges through an inheritance assumption.
var grants = map[Role]map[Capability]struct{}{
	RoleSuperAdmin: {
		CapViewUsers:      {},
		CapManagePayments: {},
		CapManagePlans:    {},
	},
	RoleAdmin: {
		CapViewUsers:      {},
		CapManagePayments: {},
	},
	RoleModerator: {
		CapViewUsers: {},
	},
}

// ParseRole validates a raw role string against the closed enumeration.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := grants[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Allows reports whether the role grants the capability. Pure and total:
// unknown roles and unknown capabilities yield false, never an error.
func Allows(role Role, cap Capability) bool {
	set, ok := grants[role]
	if !ok {
		return false
	}
	_, ok = set[cap]
	return ok
}

// Capabilities returns the role's capability set in sorted order.
func Capabilities(role Role) []Capability {
	set, ok := grants[role]
	if !ok {
		return nil
	}
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

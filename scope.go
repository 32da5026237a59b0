package auth

import (
	"slices"

	"github.com/uptrace/bun"
)

// Scope is the visibility predicate applied to account lookups and
// mutations. The zero value sees every role and hides soft-deleted rows.
type Scope struct {
	roles          []RoleName
	includeDeleted bool
}

// AnyRole returns a scope without role restriction.
func AnyRole() Scope {
	return Scope{}
}

// RoleScope restricts visibility to accounts holding one of roles.
func RoleScope(roles ...RoleName) Scope {
	return Scope{roles: slices.Clone(roles)}
}

// IncludingDeleted returns a copy of s that also sees soft-deleted rows.
func (s Scope) IncludingDeleted() Scope {
	return Scope{roles: slices.Clone(s.roles), includeDeleted: true}
}

// WithRoles narrows s to the intersection with roles. Narrowing an
// unrestricted scope yields roles.
func (s Scope) WithRoles(roles ...RoleName) Scope {
	out := Scope{includeDeleted: s.includeDeleted}
	if len(s.roles) == 0 {
		out.roles = slices.Clone(roles)
		return out
	}
	out.roles = []RoleName{}
	for _, r := range roles {
		if slices.Contains(s.roles, r) {
			out.roles = append(out.roles, r)
		}
	}
	return out
}

func (s Scope) Roles() []RoleName {
	return slices.Clone(s.roles)
}

func (s Scope) IsRoleRestricted() bool {
	return s.roles != nil
}

func (s Scope) IncludesDeleted() bool {
	return s.includeDeleted
}

// Allows reports whether an account with the given role and state is visible.
func (s Scope) Allows(role RoleName, deleted bool) bool {
	if deleted && !s.includeDeleted {
		return false
	}
	if s.roles == nil {
		return true
	}
	return slices.Contains(s.roles, role)
}

func (s Scope) roleNames() []string {
	names := make([]string, 0, len(s.roles))
	for _, r := range s.roles {
		names = append(names, string(r))
	}
	return names
}

// Select applies the predicate to a select query over accounts.
func (s Scope) Select(q *bun.SelectQuery) *bun.SelectQuery {
	if !s.includeDeleted {
		q = q.Where("?TableAlias.deleted_at IS NULL")
	}
	if s.roles != nil {
		if len(s.roles) == 0 {
			return q.Where("1 = 0")
		}
		q = q.Where("?TableAlias.role_id IN (SELECT roles.id FROM roles WHERE roles.name IN (?))", bun.In(s.roleNames()))
	}
	return q
}

// Update applies the role part of the predicate to an update over accounts.
// Soft-delete guards are part of each transition's own precondition.
func (s Scope) Update(q *bun.UpdateQuery) *bun.UpdateQuery {
	if s.roles != nil {
		if len(s.roles) == 0 {
			return q.Where("1 = 0")
		}
		q = q.Where("role_id IN (SELECT roles.id FROM roles WHERE roles.name IN (?))", bun.In(s.roleNames()))
	}
	return q
}

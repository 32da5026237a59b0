package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/stretchr/testify/assert"
)

func TestScope_Allows(t *testing.T) {
	all := auth.AnyRole()
	assert.False(t, all.IsRoleRestricted())
	assert.True(t, all.Allows(auth.RoleAdmin, false))
	assert.False(t, all.Allows(auth.RoleAdmin, true))
	assert.True(t, all.IncludingDeleted().Allows(auth.RoleAdmin, true))

	admins := auth.RoleScope(auth.RoleAdmin)
	assert.True(t, admins.IsRoleRestricted())
	assert.True(t, admins.Allows(auth.RoleAdmin, false))
	assert.False(t, admins.Allows(auth.RoleUser, false))
	assert.False(t, admins.IncludesDeleted())
}

func TestScope_WithRoles(t *testing.T) {
	narrowed := auth.AnyRole().WithRoles(auth.RoleUser, auth.RolePremium)
	assert.Equal(t, []auth.RoleName{auth.RoleUser, auth.RolePremium}, narrowed.Roles())

	intersected := narrowed.WithRoles(auth.RolePremium, auth.RoleAdmin)
	assert.Equal(t, []auth.RoleName{auth.RolePremium}, intersected.Roles())

	empty := auth.RoleScope(auth.RoleAdmin).WithRoles(auth.RoleUser)
	assert.True(t, empty.IsRoleRestricted())
	assert.Empty(t, empty.Roles())
	for _, role := range auth.AllRoles() {
		assert.False(t, empty.Allows(role, false), role)
	}

	deleted := auth.RoleScope(auth.RoleUser).IncludingDeleted().WithRoles(auth.RoleUser)
	assert.True(t, deleted.IncludesDeleted())
}

func TestScope_RolesIsACopy(t *testing.T) {
	scope := auth.RoleScope(auth.RoleUser)
	roles := scope.Roles()
	roles[0] = auth.RoleAdmin
	assert.Equal(t, []auth.RoleName{auth.RoleUser}, scope.Roles())
}

func TestParseRole(t *testing.T) {
	role, ok := auth.ParseRole(" premium ")
	assert.True(t, ok)
	assert.Equal(t, auth.RolePremium, role)

	role, ok = auth.ParseRole("default")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleDefault, role)

	_, ok = auth.ParseRole("superuser")
	assert.False(t, ok)
}

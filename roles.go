package auth

import "strings"

// RoleName is the closed set of account roles.
type RoleName string

const (
	// RoleUser is the default role assigned on registration
	RoleUser RoleName = "USER"
	// RoleAdmin manages other admin accounts
	RoleAdmin RoleName = "ADMIN"
	// RolePremium is a paying user
	RolePremium RoleName = "PREMIUM"
	// RoleVisitor has read only access
	RoleVisitor RoleName = "VISITOR"
)

// RoleDefault is the role new accounts receive.
const RoleDefault = RoleUser

// AllRoles lists every seeded role.
func AllRoles() []RoleName {
	return []RoleName{RoleUser, RoleAdmin, RolePremium, RoleVisitor}
}

// IsValid checks if the role is one of the predefined valid roles
func (r RoleName) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RolePremium, RoleVisitor:
		return true
	default:
		return false
	}
}

func (r RoleName) String() string {
	return string(r)
}

// ParseRole resolves a role name, accepting the legacy DEFAULT alias.
func ParseRole(s string) (RoleName, bool) {
	name := RoleName(strings.ToUpper(strings.TrimSpace(s)))
	if name == "DEFAULT" {
		return RoleDefault, true
	}
	return name, name.IsValid()
}

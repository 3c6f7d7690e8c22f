// Package entity contains the core business objects of the credential domain.
package entity

// Role is the single authorization attribute carried by an identity.
type Role string

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = "user"
	// RoleModerator is an elevated, non-administrative role.
	RoleModerator Role = "moderator"
	// RoleAdmin satisfies every role requirement.
	RoleAdmin Role = "admin"
)

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the Role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// Satisfies reports whether r grants access to something that requires one of
// the given roles. Admin satisfies every requirement.
func (r Role) Satisfies(required ...Role) bool {
	if r == RoleAdmin {
		return true
	}
	for _, want := range required {
		if r == want {
			return true
		}
	}

	return false
}

// ParseRole converts s to a Role, falling back to RoleUser for unknown values.
func ParseRole(s string) Role {
	role := Role(s)
	if !role.IsValid() {
		return RoleUser
	}

	return role
}

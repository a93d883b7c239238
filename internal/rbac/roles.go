package rbac

import "strings"

// Role is one of the closed set of coarse privilege levels.
type Role string

const (
	// RoleStudent is the default role assigned at identity creation.
	RoleStudent Role = "STUDENT"
	// RoleInstructor unlocks course and lesson authoring.
	RoleInstructor Role = "INSTRUCTOR"
	// RoleAdmin unlocks every permission plus administrative surfaces.
	RoleAdmin Role = "ADMIN"
)

// KnownRoles lists every member of the closed role enumeration.
var KnownRoles = []Role{RoleStudent, RoleInstructor, RoleAdmin}

// ParseRole maps a raw string onto the closed enumeration. Matching is
// case-insensitive; anything outside the enumeration is rejected.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleInstructor:
		return RoleInstructor, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// DecodeRoles converts raw claim strings into known roles. Unrecognized
// values are returned separately so the caller can log them; they are never
// propagated into permission checks.
func DecodeRoles(rawRoles []string) ([]Role, []string) {
	decoded := make([]Role, 0, len(rawRoles))
	dropped := make([]string, 0)
	seen := make(map[Role]struct{}, len(rawRoles))
	for _, rawRole := range rawRoles {
		role, known := ParseRole(rawRole)
		if !known {
			dropped = append(dropped, rawRole)
			continue
		}
		if _, duplicate := seen[role]; duplicate {
			continue
		}
		seen[role] = struct{}{}
		decoded = append(decoded, role)
	}
	return decoded, dropped
}

// RoleStrings converts a role slice to its wire representation.
func RoleStrings(roles []Role) []string {
	encoded := make([]string, 0, len(roles))
	for _, role := range roles {
		encoded = append(encoded, string(role))
	}
	return encoded
}

// ContainsRole reports whether the role set includes the given role.
func ContainsRole(roles []Role, wanted Role) bool {
	for _, role := range roles {
		if role == wanted {
			return true
		}
	}
	return false
}

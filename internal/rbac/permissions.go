package rbac

// Permission is an opaque capability tag derived statically from role
// membership. Permissions are never stored per identity.
type Permission string

const (
	PermCoursesView   Permission = "courses:view"
	PermCoursesCreate Permission = "courses:create"
	PermCoursesEdit   Permission = "courses:edit"
	PermLessonsView   Permission = "lessons:view"
	PermLessonsCreate Permission = "lessons:create"
	PermLessonsEdit   Permission = "lessons:edit"
	PermProgressTrack Permission = "progress:track"
	PermNotesCreate   Permission = "notes:create"
	PermNotesView     Permission = "notes:view"
	PermStudentsView  Permission = "students:view"
	PermAdminAccess   Permission = "admin:access"
	PermUsersManage   Permission = "users:manage"
	PermRolesManage   Permission = "roles:manage"
	PermStatsView     Permission = "stats:view"
)

// rolePermissions is the fixed role-to-permission table. An unknown role key
// yields no permissions, never all permissions.
var rolePermissions = map[Role][]Permission{
	RoleStudent: {
		PermCoursesView,
		PermLessonsView,
		PermProgressTrack,
		PermNotesCreate,
		PermNotesView,
	},
	RoleInstructor: {
		PermCoursesView,
		PermCoursesCreate,
		PermCoursesEdit,
		PermLessonsView,
		PermLessonsCreate,
		PermLessonsEdit,
		PermProgressTrack,
		PermNotesCreate,
		PermNotesView,
		PermStudentsView,
	},
	RoleAdmin: {
		PermCoursesView,
		PermCoursesCreate,
		PermCoursesEdit,
		PermLessonsView,
		PermLessonsCreate,
		PermLessonsEdit,
		PermProgressTrack,
		PermNotesCreate,
		PermNotesView,
		PermStudentsView,
		PermAdminAccess,
		PermUsersManage,
		PermRolesManage,
		PermStatsView,
	},
}

// PermissionsFor returns the deduplicated union of every role's permission
// list. Order is not significant.
func PermissionsFor(roles []Role) []Permission {
	seen := make(map[Permission]struct{})
	union := make([]Permission, 0)
	for _, role := range roles {
		for _, permission := range rolePermissions[role] {
			if _, present := seen[permission]; present {
				continue
			}
			seen[permission] = struct{}{}
			union = append(union, permission)
		}
	}
	return union
}

// HasPermission reports whether the role set grants the permission.
func HasPermission(roles []Role, wanted Permission) bool {
	for _, role := range roles {
		for _, permission := range rolePermissions[role] {
			if permission == wanted {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether the role set grants at least one of the
// given permissions.
func HasAnyPermission(roles []Role, wanted []Permission) bool {
	for _, permission := range wanted {
		if HasPermission(roles, permission) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the role set grants every one of the
// given permissions.
func HasAllPermissions(roles []Role, wanted []Permission) bool {
	for _, permission := range wanted {
		if !HasPermission(roles, permission) {
			return false
		}
	}
	return true
}

// IsAdmin reports whether the role set includes ADMIN.
func IsAdmin(roles []Role) bool {
	return ContainsRole(roles, RoleAdmin)
}

// IsInstructor reports whether the role set includes INSTRUCTOR. Admins are
// instructors too.
func IsInstructor(roles []Role) bool {
	return ContainsRole(roles, RoleInstructor) || IsAdmin(roles)
}

// IsStudent reports whether the role set includes STUDENT. The empty set
// counts as student for display compatibility only; callers at the claims
// boundary log its occurrence, and it grants no permissions.
func IsStudent(roles []Role) bool {
	return ContainsRole(roles, RoleStudent) || len(roles) == 0
}

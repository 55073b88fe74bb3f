package auth

import "strings"

// Verb is an operation a principal may perform on a namespace type.
type Verb string

// Verbs understood by the permission model.
const (
	VerbRead   Verb = "read"
	VerbWrite  Verb = "write"
	VerbCreate Verb = "create"
	VerbDelete Verb = "delete"
)

// wildcard matches any type or any verb in a Permission.
const wildcard = "*"

// Permission is a named capability of the form "<type>:<verb>".
// Either side may be the wildcard "*".
type Permission string

// PermissionFor builds the permission for a verb on a namespace type.
func PermissionFor(typ string, verb Verb) Permission {
	return Permission(typ + ":" + string(verb))
}

// matches reports whether a granted permission covers the requested one.
func (p Permission) matches(typ string, verb Verb) bool {
	grantType, grantVerb, ok := strings.Cut(string(p), ":")
	if !ok {
		return false
	}
	return (grantType == wildcard || grantType == typ) &&
		(grantVerb == wildcard || grantVerb == string(verb))
}

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
// Instance-level rules (ownership, room scoping) are applied by the namespace.
var rolePermissions = map[Role][]Permission{
	RolePanel: {
		"device:read",
	},
	RoleUser: {
		"device:read",
		"device:write",
		"record:read",
	},
	RoleAdmin: {
		"device:*",
		"record:*",
		"connection:read",
		"connection:delete",
		"user:read",
	},
	RoleOwner: {
		"*:*",
	},
}

// HasPermission returns true if the role may perform verb on objects of typ.
func HasPermission(role Role, typ string, verb Verb) bool {
	for _, p := range rolePermissions[role] {
		if p.matches(typ, verb) {
			return true
		}
	}
	return false
}

// AnyRoleCan reports whether at least one role may perform verb on typ.
// Used as a cheap pre-filter before per-connection checks.
func AnyRoleCan(typ string, verb Verb) bool {
	for role := range rolePermissions {
		if HasPermission(role, typ, verb) {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// IsRoomScoped returns true if the role's device visibility is limited to granted rooms.
func IsRoomScoped(role Role) bool {
	return role == RoleUser || role == RolePanel
}

// secretAttributes are never readable through the namespace, whatever the role.
var secretAttributes = map[string]bool{
	AttrPasswordHash: true,
}

// IsSecretAttribute reports whether attr must never leave the server.
func IsSecretAttribute(attr string) bool {
	return secretAttributes[attr]
}

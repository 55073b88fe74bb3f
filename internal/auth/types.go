package auth

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/name"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username can be stored and used as the
// id of a user/<username> object.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is the permission tier of an account.
type Role string

const (
	// RolePanel is a wall-mounted display identity. Read-only, room-scoped.
	RolePanel Role = "panel"

	// RoleUser is a household member with explicit room grants.
	// Zero room assignments = no device visibility.
	RoleUser Role = "user"

	// RoleAdmin manages devices, records and sessions. Bypasses room scoping.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin can do plus user management.
	RoleOwner Role = "owner"
)

var ValidRoles = []Role{RolePanel, RoleUser, RoleAdmin, RoleOwner}

func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Source records where a user's credentials are validated.
type Source string

const (
	// SourceLocal users are validated against the stored Argon2id hash.
	SourceLocal Source = "local"

	// SourceDirectory users are validated by a directory bind (LDAP).
	SourceDirectory Source = "directory"
)

// TypeUser is the namespace type under which user accounts are published.
const TypeUser = "user"

// User attribute names as exposed through the namespace.
const (
	AttrDisplayName  = "display_name"
	AttrEmail        = "email"
	AttrRole         = "role"
	AttrSource       = "source"
	AttrIsActive     = "is_active"
	AttrRoomIDs      = "room_ids"
	AttrPasswordHash = "password_hash"
)

// userAttributes lists the attributes of a User in a stable order.
var userAttributes = []string{
	AttrDisplayName, AttrEmail, AttrRole, AttrSource, AttrIsActive, AttrRoomIDs, AttrPasswordHash,
}

// User represents an account. Users are published into the namespace as
// objects of type "user" named by their username.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	Source       Source    `json:"source"`
	IsActive     bool      `json:"is_active"`
	RoomIDs      []string  `json:"room_ids,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ObjectName returns the namespace name of the user.
func (u *User) ObjectName() name.Name {
	return name.New(TypeUser, u.Username)
}

// Owner makes every user the owner of their own account object.
func (u *User) Owner() string {
	return u.Username
}

// AttributeNames returns the user's attribute names.
func (u *User) AttributeNames() []string {
	return slices.Clone(userAttributes)
}

// GetAttribute returns the value of a user attribute.
func (u *User) GetAttribute(attr string) (any, error) {
	switch attr {
	case AttrDisplayName:
		return u.DisplayName, nil
	case AttrEmail:
		return u.Email, nil
	case AttrRole:
		return string(u.Role), nil
	case AttrSource:
		return string(u.Source), nil
	case AttrIsActive:
		return u.IsActive, nil
	case AttrRoomIDs:
		return slices.Clone(u.RoomIDs), nil
	case AttrPasswordHash:
		return u.PasswordHash, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// SetAttribute updates a user attribute.
func (u *User) SetAttribute(attr string, value any) error {
	switch attr {
	case AttrDisplayName, AttrEmail, AttrRole, AttrSource, AttrPasswordHash:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidAttributeValue, attr)
		}
		return u.setString(attr, s)
	case AttrIsActive:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidAttributeValue, attr)
		}
		u.IsActive = b
	case AttrRoomIDs:
		ids, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidAttributeValue, attr, err)
		}
		u.RoomIDs = ids
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (u *User) setString(attr, s string) error {
	switch attr {
	case AttrDisplayName:
		u.DisplayName = s
	case AttrEmail:
		u.Email = s
	case AttrRole:
		if !IsValidRole(Role(s)) {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidAttributeValue, s)
		}
		u.Role = Role(s)
	case AttrSource:
		if Source(s) != SourceLocal && Source(s) != SourceDirectory {
			return fmt.Errorf("%w: unknown source %q", ErrInvalidAttributeValue, s)
		}
		u.Source = Source(s)
	case AttrPasswordHash:
		u.PasswordHash = s
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Scope returns the room scope that limits what the user can see.
// A nil scope means unrestricted (admin/owner).
func (u *User) Scope() *RoomScope {
	if u.Role == RoleAdmin || u.Role == RoleOwner {
		return nil
	}
	return &RoomScope{RoomIDs: slices.Clone(u.RoomIDs)}
}

// Credentials returns a snapshot of the fields the Authenticator needs.
// The snapshot is safe to hand to another goroutine.
func (u *User) Credentials() Credentials {
	return Credentials{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Source:       u.Source,
		IsActive:     u.IsActive,
	}
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// Credentials is an immutable snapshot of a user's authentication data.
type Credentials struct {
	Username     string
	PasswordHash string
	Source       Source
	IsActive     bool
}

// RoomScope holds the resolved room access for a principal.
// A nil RoomScope means unrestricted access (admin/owner).
type RoomScope struct {
	// RoomIDs is the list of rooms whose devices the principal can see.
	RoomIDs []string
}

// CanAccessRoom returns true if the room is in the scope's accessible rooms.
func (rs *RoomScope) CanAccessRoom(roomID string) bool {
	if rs == nil {
		return true // unrestricted
	}
	return slices.Contains(rs.RoomIDs, roomID)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrDirectoryUnavailable  = errors.New("directory unavailable")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserInactive          = errors.New("user account is inactive")
	ErrUsernameExists        = errors.New("username already exists")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrUnknownAttribute      = errors.New("unknown user attribute")
	ErrInvalidAttributeValue = errors.New("invalid user attribute value")
)

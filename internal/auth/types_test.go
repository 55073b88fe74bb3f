package auth

import (
	"errors"
	"testing"
)

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		username string
		want     bool
	}{
		{"alice", true},
		{"alice.smith-2_x", true},
		{"", false},
		{"has space", false},
		{"slash/name", false},
		{string(make([]byte, 65)), false},
	}
	for _, tt := range tests {
		if got := IsValidUsername(tt.username); got != tt.want {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tt.username, got, tt.want)
		}
	}
}

func TestUser_ObjectName(t *testing.T) {
	u := &User{Username: "alice"}
	n := u.ObjectName()
	if n.Type != TypeUser || n.Object != "alice" || n.HasAttribute() {
		t.Errorf("ObjectName() = %v, want user/alice", n)
	}
	if u.Owner() != "alice" {
		t.Errorf("Owner() = %q, want alice", u.Owner())
	}
}

func TestUser_GetAttribute(t *testing.T) {
	u := &User{
		Username:     "alice",
		DisplayName:  "Alice",
		Role:         RoleUser,
		Source:       SourceLocal,
		IsActive:     true,
		RoomIDs:      []string{"room-kitchen"},
		PasswordHash: "$argon2id$...",
	}

	for _, attr := range u.AttributeNames() {
		if _, err := u.GetAttribute(attr); err != nil {
			t.Errorf("GetAttribute(%q) error = %v", attr, err)
		}
	}

	v, _ := u.GetAttribute(AttrRole)
	if v != "user" {
		t.Errorf("role = %v, want user", v)
	}

	rooms, _ := u.GetAttribute(AttrRoomIDs)
	rooms.([]string)[0] = "mutated"
	if u.RoomIDs[0] != "room-kitchen" {
		t.Error("GetAttribute should return a copy of room_ids")
	}

	if _, err := u.GetAttribute("nope"); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("error = %v, want ErrUnknownAttribute", err)
	}
}

func TestUser_SetAttribute(t *testing.T) {
	u := &User{Username: "alice", Role: RoleUser}

	if err := u.SetAttribute(AttrDisplayName, "Alice Smith"); err != nil {
		t.Fatalf("SetAttribute(display_name) error = %v", err)
	}
	if u.DisplayName != "Alice Smith" {
		t.Errorf("DisplayName = %q", u.DisplayName)
	}
	if u.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be bumped")
	}

	if err := u.SetAttribute(AttrRoomIDs, []any{"room-a", "room-b"}); err != nil {
		t.Fatalf("SetAttribute(room_ids) error = %v", err)
	}
	if len(u.RoomIDs) != 2 {
		t.Errorf("RoomIDs = %v", u.RoomIDs)
	}

	tests := []struct {
		name  string
		attr  string
		value any
		want  error
	}{
		{"unknown role", AttrRole, "superuser", ErrInvalidAttributeValue},
		{"role not string", AttrRole, 3, ErrInvalidAttributeValue},
		{"bad source", AttrSource, "kerberos", ErrInvalidAttributeValue},
		{"active not bool", AttrIsActive, "yes", ErrInvalidAttributeValue},
		{"rooms wrong type", AttrRoomIDs, 42, ErrInvalidAttributeValue},
		{"rooms mixed", AttrRoomIDs, []any{"a", 1}, ErrInvalidAttributeValue},
		{"unknown attr", "shoe_size", 9, ErrUnknownAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := u.SetAttribute(tt.attr, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("SetAttribute(%s, %v) error = %v, want %v", tt.attr, tt.value, err, tt.want)
			}
		})
	}

	if u.Role != RoleUser {
		t.Errorf("Role changed to %q after rejected update", u.Role)
	}
}

func TestUser_Credentials(t *testing.T) {
	u := &User{Username: "alice", PasswordHash: "h", Source: SourceDirectory, IsActive: true}
	c := u.Credentials()

	u.PasswordHash = "changed"
	if c.PasswordHash != "h" || c.Source != SourceDirectory || !c.IsActive {
		t.Errorf("Credentials() = %+v, want an independent snapshot", c)
	}
}

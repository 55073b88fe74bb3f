package namespace

import (
	"context"

	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// Object is any entity that can live in the namespace.
//
// Objects must be pointer types: the namespace tracks identity so that one
// object is never visible under two names.
type Object interface {
	// ObjectName returns the object's whole-object Name (no attribute).
	ObjectName() name.Name

	// AttributeNames lists the attributes GetAttribute understands.
	AttributeNames() []string

	GetAttribute(attr string) (any, error)
	SetAttribute(attr string, value any) error
}

// Owned objects grant their owner read access regardless of role.
type Owned interface {
	Owner() string
}

// Located objects are subject to room scoping when scoped is true.
// A scoped object with an empty room is hidden from room-scoped roles.
type Located interface {
	RoomID() (id string, scoped bool)
}

// Extensible objects accept attributes beyond their current AttributeNames.
type Extensible interface {
	AcceptsAttribute(attr string) bool
}

// TypeSpec describes a registered object type.
type TypeSpec struct {
	// Name is the type component of every object Name of this type.
	Name string

	// New builds an empty object; used when loading persisted objects and
	// when clients add objects by name. Nil means clients cannot create
	// objects of this type.
	New func(object string) Object

	// Store persists objects of this type. Nil means in-memory only.
	Store Persister
}

// Persister stores objects of one or more types.
type Persister interface {
	Save(ctx context.Context, n name.Name, obj Object) error
	Delete(ctx context.Context, n name.Name) error
}

// Logger defines the logging interface used by the Namespace.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

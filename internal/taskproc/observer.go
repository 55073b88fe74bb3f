package taskproc

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// Event describes one applied namespace mutation.
type Event struct {
	Kind   Kind
	Name   name.Name
	Object namespace.Object

	// Value is the encoded attribute for KindChanged, the encoded attribute
	// map for KindAdded, and nil for KindRemoved.
	Value json.RawMessage

	// Actor is the username the mutation was attributed to, empty for
	// system mutations such as bridge updates.
	Actor string
}

// Observer is told about every applied mutation, on the worker, in order.
// Implementations must return quickly and must not call back into the
// processor synchronously.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }

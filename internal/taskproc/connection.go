package taskproc

import (
	"context"
	"encoding/json"
	"io"

	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// Handle identifies a connection's underlying socket. Transports allocate
// handles; the registry is keyed by them.
type Handle uint64

// Kind is the operation a notification reports.
type Kind string

const (
	KindAdded   Kind = "added"
	KindChanged Kind = "changed"
	KindRemoved Kind = "removed"
)

// Notification is one outbound change. Added and removed notifications
// carry a whole-object Name; changed notifications always carry an
// attribute. Value is the attribute value for changes and the object's
// attribute map for adds.
type Notification struct {
	Kind  Kind            `json:"kind"`
	Name  name.Name       `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Connection is one client session as seen by the processor.
//
// All methods except Handle are called on the worker goroutine only.
type Connection interface {
	// Handle returns the socket handle the connection was built for.
	Handle() Handle

	// Object returns the connection's namespace entry.
	Object() *ConnectionObject

	// ProcessMessages decodes and applies buffered client messages using
	// ops. The processor attributes the namespace to the connection's user
	// for the duration of the call.
	ProcessMessages(ctx context.Context, ops Operations)

	// Notify buffers n for delivery. It returns true when the outbound
	// buffer went from empty to non-empty, which schedules a Flush.
	Notify(n Notification) bool

	// Flush hands buffered output to the transport without blocking.
	Flush() error

	// LoginSucceeded reports a successful login to the client.
	LoginSucceeded()

	// LoginFailed reports a failed login to the client. Returning true
	// asks the processor to disconnect.
	LoginFailed() (disconnect bool)

	// PasswordChanged and PasswordChangeFailed report the outcome of a
	// password change to the client.
	PasswordChanged()
	PasswordChangeFailed(err error)

	// Close releases the socket. It is called at most once.
	Close(reason string) error
}

// ConnectionFactory builds a Connection from an accepted socket. It runs on
// the worker. When it fails the processor closes the socket.
type ConnectionFactory func(handle Handle, socket io.Closer) (Connection, error)

package taskproc

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// TypeConnection is the namespace type of live connections.
const TypeConnection = "connection"

// Connection attribute names.
const (
	AttrSessionID   = "session_id"
	AttrRemoteAddr  = "remote_addr"
	AttrUser        = "user"
	AttrState       = "state"
	AttrConnectedAt = "connected_at"
)

var connectionAttributes = []string{AttrSessionID, AttrRemoteAddr, AttrUser, AttrState, AttrConnectedAt}

// State is a connection's lifecycle state.
type State string

// Lifecycle: connecting -> unauthenticated -> authenticated -> disconnected.
// Only processor tasks move a connection between states.
const (
	StateConnecting      State = "connecting"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateDisconnected    State = "disconnected"
)

// errReadOnly is returned for client writes to connection attributes.
var errReadOnly = errors.New("connection attributes are read-only")

// ConnectionObject is a connection's entry in the namespace. Once logged in
// it is owned by its user, who can then see their own sessions.
//
// Thread Safety: mutated by the worker only.
type ConnectionObject struct {
	sessionID   string
	remoteAddr  string
	connectedAt time.Time
	state       State
	user        *auth.User
}

// NewConnectionObject creates the namespace entry for a new session.
func NewConnectionObject(sessionID, remoteAddr string) *ConnectionObject {
	return &ConnectionObject{
		sessionID:   sessionID,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now().UTC(),
		state:       StateConnecting,
	}
}

// ConnectionSpec returns the TypeSpec for connections. Clients cannot
// create connection objects and they are never persisted.
func ConnectionSpec() namespace.TypeSpec {
	return namespace.TypeSpec{Name: TypeConnection}
}

// SessionID returns the session identifier.
func (c *ConnectionObject) SessionID() string { return c.sessionID }

// State returns the lifecycle state.
func (c *ConnectionObject) State() State { return c.state }

// User returns the logged-in user, or nil.
func (c *ConnectionObject) User() *auth.User { return c.user }

// ObjectName implements namespace.Object.
func (c *ConnectionObject) ObjectName() name.Name {
	return name.New(TypeConnection, c.sessionID)
}

// Owner implements namespace.Owned.
func (c *ConnectionObject) Owner() string {
	if c.user == nil {
		return ""
	}
	return c.user.Username
}

// AttributeNames implements namespace.Object.
func (c *ConnectionObject) AttributeNames() []string {
	return slices.Clone(connectionAttributes)
}

// GetAttribute implements namespace.Object.
func (c *ConnectionObject) GetAttribute(attr string) (any, error) {
	switch attr {
	case AttrSessionID:
		return c.sessionID, nil
	case AttrRemoteAddr:
		return c.remoteAddr, nil
	case AttrUser:
		if c.user == nil {
			return nil, nil
		}
		return c.user.Username, nil
	case AttrState:
		return string(c.state), nil
	case AttrConnectedAt:
		return c.connectedAt.Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("connection has no attribute %q", attr)
	}
}

// SetAttribute implements namespace.Object. Connection attributes change
// only through lifecycle tasks.
func (c *ConnectionObject) SetAttribute(string, any) error {
	return errReadOnly
}

// transition moves to state unless the connection is already disconnected.
func (c *ConnectionObject) transition(state State) bool {
	if c.state == StateDisconnected || c.state == state {
		return false
	}
	c.state = state
	return true
}

func (c *ConnectionObject) login(user *auth.User) {
	c.user = user
	c.transition(StateAuthenticated)
}

// SessionInfo is a point-in-time copy of a connection's namespace entry,
// safe to use off the worker.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	RemoteAddr  string    `json:"remote_addr"`
	User        string    `json:"user,omitempty"`
	Role        auth.Role `json:"role,omitempty"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (c *ConnectionObject) info() SessionInfo {
	info := SessionInfo{
		SessionID:   c.sessionID,
		RemoteAddr:  c.remoteAddr,
		State:       c.state,
		ConnectedAt: c.connectedAt,
	}
	if c.user != nil {
		info.User = c.user.Username
		info.Role = c.user.Role
	}
	return info
}

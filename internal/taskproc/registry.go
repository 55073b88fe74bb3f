package taskproc

import (
	"slices"
	"sync"
	"sync/atomic"
)

// snapshot is an immutable view of the live connections.
type snapshot struct {
	conns    []Connection
	byHandle map[Handle]Connection
}

var emptySnapshot = &snapshot{byHandle: map[Handle]Connection{}}

// Registry holds the live connections as a copy-on-write snapshot.
//
// Writers rebuild the snapshot under a short mutex; readers load the
// current snapshot atomically and never wait, so I/O goroutines can look up
// handles while the worker is busy. A snapshot obtained before a change is
// never affected by it.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot)
	return r
}

// Add registers conn under its handle.
func (r *Registry) Add(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, taken := cur.byHandle[conn.Handle()]; taken {
		return ErrHandleInUse
	}

	next := &snapshot{
		conns:    append(slices.Clip(cur.conns), conn),
		byHandle: make(map[Handle]Connection, len(cur.byHandle)+1),
	}
	for h, c := range cur.byHandle {
		next.byHandle[h] = c
	}
	next.byHandle[conn.Handle()] = conn
	r.snap.Store(next)
	return nil
}

// Remove deregisters conn. It reports false if conn was not registered,
// which makes disconnects idempotent.
func (r *Registry) Remove(conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if held, ok := cur.byHandle[conn.Handle()]; !ok || held != conn {
		return false
	}

	next := &snapshot{
		conns:    make([]Connection, 0, len(cur.conns)-1),
		byHandle: make(map[Handle]Connection, len(cur.byHandle)-1),
	}
	for _, c := range cur.conns {
		if c != conn {
			next.conns = append(next.conns, c)
			next.byHandle[c.Handle()] = c
		}
	}
	r.snap.Store(next)
	return true
}

// Lookup returns the connection registered under handle.
func (r *Registry) Lookup(handle Handle) (Connection, bool) {
	c, ok := r.snap.Load().byHandle[handle]
	return c, ok
}

// Contains reports whether conn is currently registered.
func (r *Registry) Contains(conn Connection) bool {
	c, ok := r.Lookup(conn.Handle())
	return ok && c == conn
}

// Snapshot returns the connections in registration order. The slice is
// shared and must not be modified.
func (r *Registry) Snapshot() []Connection {
	return r.snap.Load().conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.snap.Load().conns)
}

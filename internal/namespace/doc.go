// Package namespace holds the authoritative, permission-aware object graph.
//
// Every object is addressed by a name.Name. The Namespace enforces
// readability and writability against the currently attributed user and
// performs the actual attribute mutation; it does no locking of its own and
// is confined to the task processor's worker goroutine.
//
// Readability rules, in order:
//   - secret attributes (password_hash) are never readable
//   - an object's owner can always read it
//   - otherwise the role must hold "<type>:read"
//   - room-scoped roles only see Located objects in granted rooms
//
// Persistent types save through a Persister: SQLiteStore for generic
// records and devices, UserStore for accounts.
package namespace

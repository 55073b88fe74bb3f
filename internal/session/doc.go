// Package session is the client-facing side of Gray Logic Sync: a WebSocket
// transport whose connections speak a small JSON protocol against the
// namespace.
//
// Each accepted socket becomes a Conn registered with the task processor.
// Two goroutines per connection move bytes; everything else happens on the
// processor's worker:
//
//	read pump ──frames──▶ inbox ──ProcessMessages task──▶ handlers ──▶ namespace
//	                                                          │
//	write pump ◀──send chan◀── Flush task ◀── pending ◀───────┘ (replies, notifications)
//
// The wire protocol is one JSON object per text frame:
//
//	{"type":"login","id":"1","username":"alice","password":"..."}
//	{"type":"set","id":"2","name":"record/cfg#mode","value":"eco"}
//	{"type":"response","id":"2"}
//	{"type":"changed","name":"record/cfg#mode","value":"eco"}
package session

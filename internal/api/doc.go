// Package api implements the HTTP surface of the sync server.
//
// This package provides:
//   - the WebSocket endpoint that hands sockets to the session transport
//   - read-only admin endpoints for live sessions, the audit log and
//     device state history
//   - Prometheus metrics and a JSON system summary
//   - the middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Admin endpoints take the session token a client receives on WebSocket
// login as a Bearer token. A token is honoured only while the session that
// obtained it is still connected and logged in, and only for the admin and
// owner roles. The role is taken from the live session, not the token.
//
// # Graceful Degradation
//
// MQTT, the audit repository and state history are optional; endpoints
// that need a missing dependency answer 503.
package api

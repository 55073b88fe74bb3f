// Package auth provides authentication and authorisation for the sync server.
//
// It implements a 4-tier role model (panel → user → admin → owner) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - A static role → "<type>:<verb>" permission table (no database lookup)
//   - An asynchronous Authenticator backed by a bounded worker pool, so
//     Argon2id and directory round trips never run on the task processor
//   - Optional LDAP directory validation with a locally cached hash
//   - Short-lived JWT session tokens for the HTTP admin API
//
// Room scoping uses a "zero access by default, grant explicitly" model:
// a user with no room assignments cannot see any device. Admin and owner
// roles bypass room scoping entirely.
//
// Plaintext passwords travel as []byte and are cleared with Zero once
// consumed.
package auth

// Package migrations embeds the SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds every *.sql migration at its root, for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS

// Package database opens the server's SQLite database and applies its
// schema migrations.
//
// The database holds users and room assignments, the audit log, persisted
// namespace objects and device state history. It runs with WAL journaling
// and a single connection, so every writer queues behind the busy timeout
// instead of failing with "database is locked".
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations only move forward: new columns are nullable or have
// defaults, and a bad release is undone by restoring the database file.
// Tables use STRICT mode.
package database

package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/migrations"
)

// testDB opens a fresh database in a temp dir with every migration
// applied, so tests run against the production schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return db.DB
}

// seedTestUser creates an account whose password is "test-password".
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword([]byte("test-password"))
	require.NoError(t, err)

	u := newUser(username, role)
	u.PasswordHash = hash
	require.NoError(t, NewUserRepository(db).Create(t.Context(), u))
	return u
}

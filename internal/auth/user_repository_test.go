package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHash stands in for a PHC string where no password is verified.
const fakeHash = "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"

func newUser(username string, role Role) *User {
	return &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: fakeHash,
		Role:         role,
		IsActive:     true,
	}
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	u := newUser("testuser", RoleUser)
	u.DisplayName = "Test User"
	u.Email = "test@example.com"
	require.NoError(t, repo.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := repo.GetByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Test User", got.DisplayName)
	assert.Equal(t, "test@example.com", got.Email)
	assert.Equal(t, RoleUser, got.Role)
	assert.Equal(t, SourceLocal, got.Source, "source defaults to local")
	assert.Equal(t, fakeHash, got.PasswordHash)
	assert.True(t, got.IsActive)
	assert.True(t, got.CreatedAt.Equal(u.CreatedAt))
}

func TestUserRepository_GetByUsername_NotFound(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	_, err := repo.GetByUsername(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("duplicate", RoleUser)))
	assert.ErrorIs(t, repo.Create(ctx, newUser("duplicate", RoleAdmin)), ErrUsernameExists)
}

func TestUserRepository_Upsert(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	first := newUser("emma", RoleUser)
	require.NoError(t, repo.Upsert(ctx, first))
	id := first.ID

	// A fresh object for the same username keeps the stored ID.
	second := newUser("emma", RoleAdmin)
	second.DisplayName = "Emma"
	second.PasswordHash = ""
	second.IsActive = false
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, id, second.ID)

	got, err := repo.GetByUsername(ctx, "emma")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.Equal(t, "Emma", got.DisplayName)
	assert.Empty(t, got.PasswordHash)
	assert.False(t, got.IsActive)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUserRepository_List(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)

	for _, name := range []string{"charlie", "alice", "bob"} {
		require.NoError(t, repo.Create(ctx, newUser(name, RoleUser)))
	}
	users, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestUserRepository_DeleteByUsername(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("deleteme", RoleUser)))
	require.NoError(t, repo.DeleteByUsername(ctx, "deleteme"))

	_, err := repo.GetByUsername(ctx, "deleteme")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, repo.DeleteByUsername(ctx, "deleteme"), ErrUserNotFound)
}

func TestUserRepository_Count(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.Create(ctx, newUser("one", RoleUser)))
	require.NoError(t, repo.Create(ctx, newUser("two", RoleUser)))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUserRepository_DirectorySource(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	u := newUser("ldapuser", RoleUser)
	u.Source = SourceDirectory
	u.PasswordHash = ""
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByUsername(ctx, "ldapuser")
	require.NoError(t, err)
	assert.Equal(t, SourceDirectory, got.Source)
	assert.Empty(t, got.PasswordHash, "no cached password yet")
}

func TestLoadUsers_AttachesRooms(t *testing.T) {
	db := testDB(t)
	alice := seedTestUser(t, db, "alice", RoleUser)
	seedTestUser(t, db, "admin", RoleAdmin)
	rooms := NewRoomAccessRepository(db)
	ctx := context.Background()

	require.NoError(t, rooms.SetRoomAccess(ctx, alice.ID, []string{"room-living", "room-kitchen"}, ""))

	users, err := LoadUsers(ctx, NewUserRepository(db), rooms)
	require.NoError(t, err)
	require.Len(t, users, 2)

	byName := make(map[string]*User)
	for _, u := range users {
		byName[u.Username] = u
	}
	assert.Equal(t, []string{"room-kitchen", "room-living"}, byName["alice"].RoomIDs)
	assert.Empty(t, byName["admin"].RoomIDs)
}

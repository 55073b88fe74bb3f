package namespace

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// UserStore persists user objects through the account repositories.
type UserStore struct {
	users auth.UserRepository
	rooms auth.RoomAccessRepository
}

// NewUserStore creates a Persister for objects of type "user".
func NewUserStore(users auth.UserRepository, rooms auth.RoomAccessRepository) *UserStore {
	return &UserStore{users: users, rooms: rooms}
}

// UserSpec returns the TypeSpec for user accounts.
func UserSpec(store *UserStore) TypeSpec {
	spec := TypeSpec{
		Name: auth.TypeUser,
		New: func(object string) Object {
			return &auth.User{
				Username:    object,
				DisplayName: object,
				Role:        auth.RoleUser,
				Source:      auth.SourceLocal,
				IsActive:    true,
			}
		},
	}
	if store != nil {
		spec.Store = store
	}
	return spec
}

// Save upserts the account by username, then replaces its room grants.
func (s *UserStore) Save(ctx context.Context, n name.Name, obj Object) error {
	u, ok := obj.(*auth.User)
	if !ok {
		return fmt.Errorf("user store: unexpected object %T for %s", obj, n)
	}

	if err := s.users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("saving %s: %w", n, err)
	}
	if err := s.rooms.SetRoomAccess(ctx, u.ID, u.RoomIDs, ""); err != nil {
		return fmt.Errorf("updating rooms of %s: %w", n, err)
	}
	return nil
}

// Delete removes the account. Deleting a missing account is not an error.
func (s *UserStore) Delete(ctx context.Context, n name.Name) error {
	err := s.users.DeleteByUsername(ctx, n.Object)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		return fmt.Errorf("deleting %s: %w", n, err)
	}
	return nil
}

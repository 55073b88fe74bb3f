package auth

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// RoomAccessRepository stores which rooms room-scoped users may see.
type RoomAccessRepository interface {
	// SetRoomAccess replaces the user's grants. An empty list revokes all.
	SetRoomAccess(ctx context.Context, userID string, roomIDs []string, grantedBy string) error

	// GetAccessibleRoomIDs returns the user's rooms in sorted order.
	GetAccessibleRoomIDs(ctx context.Context, userID string) ([]string, error)

	// AllRoomAccess returns every grant keyed by user ID.
	AllRoomAccess(ctx context.Context) (map[string][]string, error)
}

// SQLiteRoomAccessRepository implements RoomAccessRepository over the
// user_room_access table.
type SQLiteRoomAccessRepository struct {
	db *sql.DB
}

// NewRoomAccessRepository returns a repository over db.
func NewRoomAccessRepository(db *sql.DB) *SQLiteRoomAccessRepository {
	return &SQLiteRoomAccessRepository{db: db}
}

func (r *SQLiteRoomAccessRepository) SetRoomAccess(ctx context.Context, userID string, roomIDs []string, grantedBy string) error {
	rooms := slices.Compact(slices.Sorted(slices.Values(roomIDs)))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("granting rooms to %s: %w", userID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_room_access WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoking rooms of %s: %w", userID, err)
	}
	if len(rooms) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO user_room_access (user_id, room_id, created_by) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("granting rooms to %s: %w", userID, err)
		}
		defer stmt.Close()

		for _, room := range rooms {
			if _, err := stmt.ExecContext(ctx, userID, room, nullString(grantedBy)); err != nil {
				return fmt.Errorf("granting %s to %s: %w", room, userID, err)
			}
		}
	}
	return tx.Commit()
}

func (r *SQLiteRoomAccessRepository) GetAccessibleRoomIDs(ctx context.Context, userID string) ([]string, error) {
	grants, err := r.query(ctx, `SELECT user_id, room_id FROM user_room_access WHERE user_id = ? ORDER BY room_id`, userID)
	if err != nil {
		return nil, err
	}
	if rooms := grants[userID]; rooms != nil {
		return rooms, nil
	}
	return []string{}, nil
}

func (r *SQLiteRoomAccessRepository) AllRoomAccess(ctx context.Context) (map[string][]string, error) {
	return r.query(ctx, `SELECT user_id, room_id FROM user_room_access ORDER BY user_id, room_id`)
}

func (r *SQLiteRoomAccessRepository) query(ctx context.Context, query string, args ...any) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading room grants: %w", err)
	}
	defer rows.Close()

	grants := make(map[string][]string)
	for rows.Next() {
		var user, room string
		if err := rows.Scan(&user, &room); err != nil {
			return nil, fmt.Errorf("reading room grants: %w", err)
		}
		grants[user] = append(grants[user], room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading room grants: %w", err)
	}
	return grants, nil
}

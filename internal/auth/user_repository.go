package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository persists accounts. Usernames are unique; IDs are
// assigned on first insert and never change.
type UserRepository interface {
	// Create inserts a new account and fails with ErrUsernameExists on a
	// taken username.
	Create(ctx context.Context, user *User) error

	// Upsert inserts the account or overwrites the mutable fields of the
	// one with the same username. user.ID is set to the stored ID.
	Upsert(ctx context.Context, user *User) error

	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)

	// DeleteByUsername removes the account and, by cascade, its room
	// grants.
	DeleteByUsername(ctx context.Context, username string) error

	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository over the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository returns a repository over db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const selectUsers = `SELECT id, username, display_name, email, password_hash, role, source,
	is_active, created_by, created_at, updated_at FROM users`

// prepareInsert fills the defaults an insert needs and stamps the times.
func prepareInsert(user *User) string {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if user.Source == "" {
		user.Source = SourceLocal
	}
	now := time.Now().UTC().Truncate(time.Second)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return now.Format(time.RFC3339)
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	now := prepareInsert(user)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, role, source,
			is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, nullString(user.Email), user.PasswordHash,
		string(user.Role), string(user.Source), user.IsActive, nullString(user.CreatedBy), now, now,
	)
	if isUniqueViolation(err) {
		return ErrUsernameExists
	}
	if err != nil {
		return fmt.Errorf("creating user %s: %w", user.Username, err)
	}
	return nil
}

func (r *SQLiteUserRepository) Upsert(ctx context.Context, user *User) error {
	now := prepareInsert(user)
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, role, source,
			is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			password_hash = excluded.password_hash,
			role = excluded.role,
			source = excluded.source,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		 RETURNING id`,
		user.ID, user.Username, user.DisplayName, nullString(user.Email), user.PasswordHash,
		string(user.Role), string(user.Source), user.IsActive, nullString(user.CreatedBy), now, now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("saving user %s: %w", user.Username, err)
	}
	return nil
}

func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUsers+` WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", username, err)
	}
	return u, nil
}

// List returns every account, oldest first.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers+` ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (r *SQLiteUserRepository) DeleteByUsername(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports it
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// LoadUsers returns every account with its room grants attached, ready to
// be published into the namespace at startup.
func LoadUsers(ctx context.Context, users UserRepository, rooms RoomAccessRepository) ([]*User, error) {
	list, err := users.List(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := rooms.AllRoomAccess(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*User, len(list))
	for i := range list {
		list[i].RoomIDs = grants[list[i].ID]
		out[i] = &list[i]
	}
	return out, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*User, error) {
	var (
		u                    User
		email, createdBy     sql.NullString
		role, source         string
		createdAt, updatedAt string
	)
	if err := s.Scan(&u.ID, &u.Username, &u.DisplayName, &email, &u.PasswordHash,
		&role, &source, &u.IsActive, &createdBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedBy = createdBy.String
	u.Role = Role(role)
	u.Source = Source(source)
	// Both columns are written by this package or the RFC 3339 default.
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // see above
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // see above
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

package namespace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// StoredObject is one persisted object as read back from storage.
type StoredObject struct {
	Object     string
	Attributes map[string]any
	UpdatedAt  time.Time
}

// Loader reads back persisted objects of one type.
type Loader interface {
	LoadType(ctx context.Context, typ string) ([]StoredObject, error)
}

// SQLiteStore persists objects as JSON attribute maps in the
// namespace_objects table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts the object's attributes. Secret attributes are never written.
func (s *SQLiteStore) Save(ctx context.Context, n name.Name, obj Object) error {
	attrs := make(map[string]any)
	for _, attr := range obj.AttributeNames() {
		if auth.IsSecretAttribute(attr) {
			continue
		}
		v, err := obj.GetAttribute(attr)
		if err != nil {
			return fmt.Errorf("reading %s: %w", n.WithAttribute(attr), err)
		}
		attrs[attr] = v
	}

	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", n, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO namespace_objects (type, object, attributes, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (type, object) DO UPDATE SET attributes = excluded.attributes, updated_at = excluded.updated_at`,
		n.Type, n.Object, string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", n, err)
	}
	return nil
}

// Delete removes the stored object. Deleting a missing object is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, n name.Name) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM namespace_objects WHERE type = ? AND object = ?", n.Type, n.Object); err != nil {
		return fmt.Errorf("deleting %s: %w", n, err)
	}
	return nil
}

// LoadType returns every stored object of typ ordered by object name.
func (s *SQLiteStore) LoadType(ctx context.Context, typ string) ([]StoredObject, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT object, attributes, updated_at FROM namespace_objects WHERE type = ? ORDER BY object", typ)
	if err != nil {
		return nil, fmt.Errorf("querying %s objects: %w", typ, err)
	}
	defer rows.Close()

	var out []StoredObject
	for rows.Next() {
		var so StoredObject
		var payload, updatedAt string
		if err := rows.Scan(&so.Object, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s object: %w", typ, err)
		}
		if err := json.Unmarshal([]byte(payload), &so.Attributes); err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", typ, so.Object, err)
		}
		so.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
		out = append(out, so)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s objects: %w", typ, err)
	}
	return out, nil
}

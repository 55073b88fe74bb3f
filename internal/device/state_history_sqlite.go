package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout is fixed-width so created_at compares lexically.
	historyTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLiteStateHistoryRepository keeps state snapshots as JSON in the
// state_history table.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository returns a repository over db.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// Append stores entry. A missing source means the bridge reported it, a
// nil state is stored as {} and a zero CreatedAt becomes now.
func (r *SQLiteStateHistoryRepository) Append(ctx context.Context, entry StateHistoryEntry) error {
	if entry.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	if entry.Source == "" {
		entry.Source = SourceBridge
	}
	if entry.State == nil {
		entry.State = State{}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	state, err := json.Marshal(entry.State)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", entry.DeviceID, err)
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)`,
		entry.DeviceID, string(state), entry.Source, entry.CreatedAt.UTC().Format(historyTimeLayout),
	); err != nil {
		return fmt.Errorf("appending state history for %s: %w", entry.DeviceID, err)
	}
	return nil
}

// Query returns the entries q selects.
func (r *SQLiteStateHistoryRepository) Query(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error) {
	if q.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	query := `SELECT id, device_id, state, source, created_at FROM state_history WHERE device_id = ?`
	args := []any{q.DeviceID}
	if !q.Since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, q.Since.UTC().Format(historyTimeLayout))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history for %s: %w", q.DeviceID, err)
	}
	defer rows.Close()

	var entries []StateHistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading state history for %s: %w", q.DeviceID, err)
	}
	return entries, nil
}

// PruneBefore deletes entries created before cutoff.
func (r *SQLiteStateHistoryRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("pruning state history: zero cutoff")
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM state_history WHERE created_at < ?`,
		cutoff.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var (
		entry     StateHistoryEntry
		state     string
		createdAt string
	)
	if err := rows.Scan(&entry.ID, &entry.DeviceID, &state, &entry.Source, &createdAt); err != nil {
		return entry, fmt.Errorf("scanning state history: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &entry.State); err != nil {
		return entry, fmt.Errorf("decoding state of history entry %d: %w", entry.ID, err)
	}
	// RFC3339 accepts both our layout and the column default.
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return entry, fmt.Errorf("parsing created_at of history entry %d: %w", entry.ID, err)
	}
	entry.CreatedAt = ts
	return entry, nil
}

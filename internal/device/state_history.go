package device

import (
	"context"
	"time"
)

// Who caused a recorded state change.
const (
	SourceBridge    = "mqtt"      // reported by a protocol bridge
	SourceClient    = "command"   // set by a logged-in client
	SourceDiscovery = "discovery" // first state of a new device
)

// StateHistoryEntry is one snapshot of a device's state after a change.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery selects entries for one device, newest first.
type HistoryQuery struct {
	DeviceID string

	// Since, when non-zero, keeps only entries strictly newer than it.
	Since time.Time

	// Limit defaults to 50 and is capped at 200.
	Limit int
}

// StateHistoryRepository persists state snapshots. Implementations are
// safe for concurrent use.
type StateHistoryRepository interface {
	Append(ctx context.Context, entry StateHistoryEntry) error
	Query(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error)

	// PruneBefore deletes entries older than cutoff and reports how many
	// went.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

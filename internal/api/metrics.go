package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the JSON summary served at /api/v1/metrics. The
// Prometheus series on /metrics carry the detail.
type SystemMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	Runtime struct {
		Goroutines   int     `json:"goroutines"`
		HeapAllocMB  float64 `json:"heap_alloc_mb"`
		TotalAllocMB float64 `json:"total_alloc_mb"`
		NumGC        uint32  `json:"num_gc"`
	} `json:"runtime"`

	Sessions struct {
		Connected     int `json:"connected"`
		Authenticated int `json:"authenticated"`
	} `json:"sessions"`

	MQTT struct {
		Connected bool `json:"connected"`
	} `json:"mqtt"`

	// Database is omitted when the server has no database handle.
	Database *PoolStats `json:"database,omitempty"`
}

// PoolStats summarises the SQLite connection pool.
type PoolStats struct {
	Open      int   `json:"open_connections"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m SystemMetrics
	m.Timestamp = time.Now().UTC()
	m.Version = s.version
	m.UptimeSeconds = int64(time.Since(s.started).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.Runtime.Goroutines = runtime.NumGoroutine()
	m.Runtime.HeapAllocMB = float64(mem.HeapAlloc) / bytesPerMB
	m.Runtime.TotalAllocMB = float64(mem.TotalAlloc) / bytesPerMB
	m.Runtime.NumGC = mem.NumGC

	// A failed listing leaves the counts at zero.
	sessions, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.logger.Warn("listing sessions for metrics", "error", err)
	}
	m.Sessions.Connected = len(sessions)
	for _, info := range sessions {
		if info.State == taskproc.StateAuthenticated {
			m.Sessions.Authenticated++
		}
	}

	m.MQTT.Connected = s.mqtt != nil && s.mqtt.IsConnected()

	if s.db != nil {
		st := s.db.Stats()
		m.Database = &PoolStats{
			Open:      st.OpenConnections,
			InUse:     st.InUse,
			Idle:      st.Idle,
			WaitCount: st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

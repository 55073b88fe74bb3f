package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-sync/internal/device"
)

const (
	maxHistoryLimit  = 200
	maxQueryParamLen = 100
)

// historyResponse is the body of GET /devices/{id}/history.
type historyResponse struct {
	DeviceID string                     `json:"device_id"`
	History  []device.StateHistoryEntry `json:"history"`
	Count    int                        `json:"count"`
}

// handleGetDeviceHistory returns a device's recorded states, newest first.
// It accepts limit (1 to 200) and since (RFC 3339, exclusive).
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "state history unavailable")
		return
	}

	q, err := historyQuery(chi.URLParam(r, "id"), r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.history.Query(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to load device history", "device_id", q.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load device history")
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		DeviceID: q.DeviceID,
		History:  entries,
		Count:    len(entries),
	})
}

func historyQuery(deviceID string, params url.Values) (device.HistoryQuery, error) {
	q := device.HistoryQuery{DeviceID: deviceID}
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		return q, errors.New("invalid device ID")
	}

	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n <= 0:
			return q, errors.New("invalid limit")
		case n > maxHistoryLimit:
			return q, errors.New("limit exceeds maximum")
		}
		q.Limit = n
	}

	if raw := params.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = since
	}
	return q, nil
}

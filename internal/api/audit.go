package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
)

// handleListAuditLogs pages through the audit trail, newest first.
//
// Filters: action, entity_type, entity_id, user_id and since (RFC 3339).
// Paging: limit (default 50, max 200) and offset. Malformed paging values
// fall back to the defaults.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit logging not configured")
		return
	}

	filter, err := auditFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func auditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))   //nolint:errcheck // zero means default
	f.Offset, _ = strconv.Atoi(q.Get("offset")) //nolint:errcheck // zero means start

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = since
	}
	return f, nil
}

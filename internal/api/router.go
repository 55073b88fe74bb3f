package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
)

// buildRouter mounts the sync socket, the monitoring endpoints and the
// admin read API.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated for load balancers and monitoring.
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Sync protocol; clients log in over the socket itself
		r.Handle("/ws", s.transport)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(requireRole(auth.RoleAdmin, auth.RoleOwner))

			r.Get("/sessions", s.handleListSessions)
			r.Get("/audit", s.handleListAuditLogs)
			r.Get("/devices/{id}/history", s.handleGetDeviceHistory)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

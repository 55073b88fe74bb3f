package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// ctxKeyPrincipal is the context key for the authenticated session.
const ctxKeyPrincipal contextKey = "principal"

// principal is the live session behind a request's Bearer token.
type principal struct {
	Username  string
	Role      auth.Role
	SessionID string
}

// principalFrom returns the principal stored by authMiddleware.
func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(principal)
	return p, ok
}

// authMiddleware validates the session token in the Authorization header
// and checks that the session is still logged in as the token's subject.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if s.tokenSecret == "" {
			writeError(w, http.StatusUnauthorized, "token authentication is not configured")
			return
		}

		claims, err := auth.ParseSessionToken(token, s.tokenSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		sessions, err := s.sessions.Sessions(r.Context())
		if err != nil {
			s.logger.Warn("listing sessions for token check", "error", err)
			writeError(w, http.StatusServiceUnavailable, "session state unavailable")
			return
		}
		live, found := findSession(sessions, claims.SessionID)
		if !found || live.State != taskproc.StateAuthenticated || live.User != claims.Subject {
			writeError(w, http.StatusUnauthorized, "session has ended")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal{
			Username:  live.User,
			Role:      live.Role,
			SessionID: live.SessionID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects principals whose role is not listed.
func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func findSession(sessions []taskproc.SessionInfo, id string) (taskproc.SessionInfo, bool) {
	for _, s := range sessions {
		if s.SessionID == id {
			return s, true
		}
	}
	return taskproc.SessionInfo{}, false
}

// handleListSessions returns every live session.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

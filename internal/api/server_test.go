package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSessions is a fixed SessionLister.
type fakeSessions struct {
	mu       sync.Mutex
	sessions []taskproc.SessionInfo
	err      error
}

func (f *fakeSessions) Sessions(context.Context) ([]taskproc.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskproc.SessionInfo(nil), f.sessions...), f.err
}

// fakeAudit is an audit.Repository that returns canned results.
type fakeAudit struct {
	filter audit.Filter
	err    error
}

func (f *fakeAudit) Create(context.Context, *audit.AuditLog) error { return nil }

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Logs:  []audit.AuditLog{{ID: "a1", Action: audit.ActionLogin, EntityType: "user", EntityID: "root"}},
		Total: 1,
		Limit: filter.Limit,
	}, nil
}

type testDeps struct {
	sessions  *fakeSessions
	audit     *fakeAudit
	history   *device.SQLiteStateHistoryRepository
	db        *sql.DB
	transport http.Handler
	registry  *prometheus.Registry
}

func liveSessions() []taskproc.SessionInfo {
	return []taskproc.SessionInfo{
		{SessionID: "s-root", User: "root", Role: auth.RoleAdmin, State: taskproc.StateAuthenticated},
		{SessionID: "s-alice", User: "alice", Role: auth.RoleUser, State: taskproc.StateAuthenticated},
		{SessionID: "s-anon", State: taskproc.StateUnauthenticated},
	}
}

// testServer creates a Server over fakes and an in-memory history database.
func testServer(t *testing.T, opts ...func(*Deps)) (*Server, *testDeps) {
	t.Helper()

	db := setupTestDB(t)
	td := &testDeps{
		sessions: &fakeSessions{sessions: liveSessions()},
		audit:    &fakeAudit{},
		history:  device.NewSQLiteStateHistoryRepository(db),
		db:       db,
		transport: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		registry: prometheus.NewRegistry(),
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	deps := Deps{
		Config:      apiConfig(),
		TokenSecret: testSecret,
		Logger:      log,
		Transport:   td.transport,
		Sessions:    td.sessions,
		AuditRepo:   td.audit,
		History:     td.history,
		Gatherer:    td.registry,
		DB:          db,
		Version:     "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, td
}

// apiConfig listens on an ephemeral loopback port.
func apiConfig() config.APIConfig {
	var cfg config.APIConfig
	cfg.Host = "127.0.0.1"
	cfg.Timeouts.Read = 5 * time.Second
	cfg.Timeouts.Write = 5 * time.Second
	cfg.Timeouts.Idle = 5 * time.Second
	return cfg
}

// setupTestDB creates an in-memory SQLite database with the state_history schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'mqtt',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func tokenFor(t *testing.T, username string, role auth.Role, sessionID string) string {
	t.Helper()
	token, err := auth.GenerateSessionToken(&auth.User{Username: username, Role: role}, sessionID, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	return token
}

func do(t *testing.T, srv *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{Sessions: &fakeSessions{}, Transport: http.NotFoundHandler()}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: log, Sessions: &fakeSessions{}}); err == nil {
		t.Error("New() without transport succeeded")
	}
	if _, err := New(Deps{Logger: log, Transport: http.NotFoundHandler()}); err == nil {
		t.Error("New() without sessions succeeded")
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestSystemMetrics(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	var m SystemMetrics
	decode(t, w, &m)
	if m.Sessions.Connected != 3 || m.Sessions.Authenticated != 2 {
		t.Errorf("sessions = %+v, want 3 connected, 2 authenticated", m.Sessions)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if m.MQTT.Connected {
		t.Error("mqtt connected without a client")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, td := testServer(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "graylogic_test_total", Help: "test"})
	td.registry.MustRegister(counter)
	counter.Add(3)

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graylogic_test_total 3") {
		t.Errorf("/metrics body missing counter:\n%s", w.Body.String())
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://panel.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://panel.local")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Transport = http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	})

	w := do(t, srv, http.MethodGet, "/api/v1/ws", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestWebSocketRouteUsesTransport(t *testing.T) {
	srv, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/ws", ""); w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want transport's %d", w.Code, http.StatusTeapot)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	if w := do(t, srv, http.MethodGet, "/api/v1/devices", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestAdminAuth(t *testing.T) {
	srv, _ := testServer(t)

	otherSecret, err := auth.GenerateSessionToken(&auth.User{Username: "root", Role: auth.RoleAdmin}, "s-root", "another-secret-of-sufficient-length", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", otherSecret, http.StatusUnauthorized},
		{"ended session", tokenFor(t, "root", auth.RoleAdmin, "s-gone"), http.StatusUnauthorized},
		{"not logged in", tokenFor(t, "root", auth.RoleAdmin, "s-anon"), http.StatusUnauthorized},
		{"subject mismatch", tokenFor(t, "root", auth.RoleAdmin, "s-alice"), http.StatusUnauthorized},
		{"role from live session", tokenFor(t, "alice", auth.RoleOwner, "s-alice"), http.StatusForbidden},
		{"admin", tokenFor(t, "root", auth.RoleAdmin, "s-root"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/api/v1/sessions", tt.token)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestAdminAuth_NoSecret(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Security.JWT.Secret = "" })
	w := do(t, srv, http.MethodGet, "/api/v1/sessions", tokenFor(t, "root", auth.RoleAdmin, "s-root"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAdminAuth_SessionsUnavailable(t *testing.T) {
	srv, td := testServer(t)
	td.sessions.err = taskproc.ErrStopped

	w := do(t, srv, http.MethodGet, "/api/v1/sessions", tokenFor(t, "root", auth.RoleAdmin, "s-root"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Admin Endpoints ───────────────────────────────────────────────

func TestListSessions(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/sessions", tokenFor(t, "root", auth.RoleAdmin, "s-root"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Sessions []taskproc.SessionInfo `json:"sessions"`
		Count    int                    `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 3 || len(resp.Sessions) != 3 {
		t.Fatalf("count = %d, sessions = %d, want 3", resp.Count, len(resp.Sessions))
	}
	if resp.Sessions[1].User != "alice" || resp.Sessions[1].Role != auth.RoleUser {
		t.Errorf("sessions[1] = %+v", resp.Sessions[1])
	}
}

func TestListAuditLogs(t *testing.T) {
	srv, td := testServer(t)
	token := tokenFor(t, "root", auth.RoleAdmin, "s-root")

	w := do(t, srv, http.MethodGet,
		"/api/v1/audit?action=login&entity_type=user&user_id=usr-root&since=2026-10-01T12:00:00Z&limit=10&offset=5", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := td.audit.filter
	since := got.Since
	got.Since = time.Time{}
	want := audit.Filter{Action: "login", EntityType: "user", UserID: "usr-root", Limit: 10, Offset: 5}
	if got != want {
		t.Errorf("filter = %+v, want %+v", got, want)
	}
	if !since.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", since)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/audit?since=yesterday", token); w.Code != http.StatusBadRequest {
		t.Errorf("status for bad since = %d, want 400", w.Code)
	}

	var result audit.ListResult
	decode(t, w, &result)
	if result.Total != 1 || result.Logs[0].Action != audit.ActionLogin {
		t.Errorf("result = %+v", result)
	}

	td.audit.err = errors.New("database locked")
	if w := do(t, srv, http.MethodGet, "/api/v1/audit", token); w.Code != http.StatusInternalServerError {
		t.Errorf("status on repository error = %d, want 500", w.Code)
	}
}

func TestListAuditLogs_NotConfigured(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.AuditRepo = nil })
	w := do(t, srv, http.MethodGet, "/api/v1/audit", tokenFor(t, "root", auth.RoleAdmin, "s-root"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDeviceHistory(t *testing.T) {
	srv, td := testServer(t)
	token := tokenFor(t, "root", auth.RoleAdmin, "s-root")
	ctx := context.Background()

	if err := td.history.Append(ctx, device.StateHistoryEntry{DeviceID: "light-1", State: device.State{"on": true}, Source: device.SourceBridge}); err != nil {
		t.Fatal(err)
	}
	if err := td.history.Append(ctx, device.StateHistoryEntry{DeviceID: "light-1", State: device.State{"on": false}, Source: device.SourceClient}); err != nil {
		t.Fatal(err)
	}

	w := do(t, srv, http.MethodGet, "/api/v1/devices/light-1/history?limit=10", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DeviceID string                     `json:"device_id"`
		History  []device.StateHistoryEntry `json:"history"`
		Count    int                        `json:"count"`
	}
	decode(t, w, &resp)
	if resp.DeviceID != "light-1" || resp.Count != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.History[0].Source != device.SourceClient {
		t.Errorf("newest source = %q, want command", resp.History[0].Source)
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = do(t, srv, http.MethodGet, "/api/v1/devices/light-1/history?since="+future, token)
	decode(t, w, &resp)
	if resp.Count != 0 {
		t.Errorf("count with future since = %d, want 0", resp.Count)
	}
}

func TestDeviceHistory_BadParams(t *testing.T) {
	srv, _ := testServer(t)
	token := tokenFor(t, "root", auth.RoleAdmin, "s-root")

	for _, q := range []string{"limit=0", "limit=abc", "limit=201", "since=yesterday"} {
		w := do(t, srv, http.MethodGet, "/api/v1/devices/light-1/history?"+q, token)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}

	long := strings.Repeat("x", maxQueryParamLen+1)
	if w := do(t, srv, http.MethodGet, "/api/v1/devices/"+long+"/history", token); w.Code != http.StatusBadRequest {
		t.Errorf("long id: status = %d, want 400", w.Code)
	}
}

func TestDeviceHistory_NotConfigured(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.History = nil })
	w := do(t, srv, http.MethodGet, "/api/v1/devices/light-1/history", tokenFor(t, "root", auth.RoleAdmin, "s-root"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck with cancelled context succeeded")
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

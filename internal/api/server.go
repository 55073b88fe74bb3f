package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

const shutdownTimeout = 10 * time.Second

// SessionLister reports live sessions. *taskproc.Processor implements it.
type SessionLister interface {
	Sessions(ctx context.Context) ([]taskproc.SessionInfo, error)
}

// Deps wires the server. Logger, Transport and Sessions are required;
// the rest switch endpoints off or fall back to defaults when nil.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// TokenSecret verifies bearer tokens. Empty rejects every token.
	TokenSecret string

	Transport http.Handler // WebSocket endpoint
	Sessions  SessionLister

	AuditRepo audit.Repository
	History   device.StateHistoryRepository
	Gatherer  prometheus.Gatherer // prometheus.DefaultGatherer if nil
	MQTT      *mqtt.Client
	DB        *sql.DB
	Version   string
}

// Server is the admin HTTP API plus the WebSocket upgrade endpoint.
type Server struct {
	cfg         config.APIConfig
	tokenSecret string
	logger      *logging.Logger
	transport   http.Handler
	sessions    SessionLister
	auditRepo   audit.Repository
	history     device.StateHistoryRepository
	gatherer    prometheus.Gatherer
	mqtt        *mqtt.Client
	db          *sql.DB
	version     string

	started time.Time
	http    *http.Server
}

// New checks deps and builds an unstarted server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Transport == nil:
		return nil, errors.New("api: session transport is required")
	case deps.Sessions == nil:
		return nil, errors.New("api: session lister is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:         deps.Config,
		tokenSecret: deps.TokenSecret,
		logger:      deps.Logger,
		transport:   deps.Transport,
		sessions:    deps.Sessions,
		auditRepo:   deps.AuditRepo,
		history:     deps.History,
		gatherer:    deps.Gatherer,
		mqtt:        deps.MQTT,
		db:          deps.DB,
		version:     deps.Version,
		started:     time.Now(),
	}, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Bind
// failures such as a port in use are returned here.
func (s *Server) Start(_ context.Context) error {
	t := s.cfg.Timeouts
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       t.Read,
		ReadHeaderTimeout: t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", srv.Addr, err)
	}
	s.http = srv

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var serveErr error
		if tls.Enabled {
			serveErr = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			serveErr = srv.Serve(ln)
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", serveErr)
		}
	}()
	return nil
}

// Close drains in-flight requests for up to ten seconds. Hijacked
// WebSocket connections are the transport's to close.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.http == nil {
		return errors.New("api: server not started")
	}
	return nil
}

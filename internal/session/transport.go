package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// Defaults applied by NewTransport to zero Config fields.
const (
	DefaultMaxMessageSize = 64 * 1024
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultSendBuffer     = 256
	DefaultMaxInbox       = 64
)

// Config configures the transport and its connections.
type Config struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration

	// SendBuffer is the number of flushed frames a connection may have
	// waiting for the socket before it counts as a slow consumer.
	SendBuffer int

	// MaxInbox is the number of received frames a connection may have
	// waiting for the worker before it is dropped.
	MaxInbox int

	// MaxLoginFailures disconnects a client after that many consecutive
	// failed logins. Zero never disconnects.
	MaxLoginFailures int

	// TokenSecret signs the session token returned by a successful login.
	// Empty disables tokens.
	TokenSecret string
	TokenTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxInbox <= 0 {
		c.MaxInbox = DefaultMaxInbox
	}
	return c
}

// Scheduler is the part of the task processor connections talk to.
// *taskproc.Processor implements it.
type Scheduler interface {
	ScheduleConnect(handle taskproc.Handle, socket io.Closer, factory taskproc.ConnectionFactory) error
	ScheduleDisconnect(handle taskproc.Handle, reason string) error
	ProcessMessages(conn taskproc.Connection) error
	Flush(conn taskproc.Connection) error
}

// Logger defines the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// errNotWebSocket is returned by the factory for sockets it cannot drive.
var errNotWebSocket = errors.New("session: socket is not a websocket connection")

// Transport accepts WebSocket clients and hands them to the processor.
type Transport struct {
	sched    Scheduler
	cfg      Config
	logger   Logger
	upgrader websocket.Upgrader

	nextHandle atomic.Uint64

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// NewTransport creates a transport that registers connections with sched.
func NewTransport(sched Scheduler, cfg Config) *Transport {
	return &Transport{
		sched:  sched,
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking is handled by CORS middleware
				return true
			},
		},
		sockets: make(map[*websocket.Conn]struct{}),
	}
}

// SetLogger sets the logger for the transport and its connections.
func (t *Transport) SetLogger(logger Logger) {
	t.logger = logger
}

// ServeHTTP upgrades the request and schedules the new connection.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	t.track(ws)

	handle := taskproc.Handle(t.nextHandle.Add(1))
	sessionID := uuid.NewString()
	if err := t.sched.ScheduleConnect(handle, ws, t.factory(sessionID)); err != nil {
		t.forget(ws)
		t.logger.Warn("rejecting websocket client", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	t.logger.Debug("websocket client accepted", "handle", uint64(handle), "session", sessionID)
}

// factory builds the Conn for an accepted socket. It runs on the worker.
func (t *Transport) factory(sessionID string) taskproc.ConnectionFactory {
	return func(handle taskproc.Handle, socket io.Closer) (taskproc.Connection, error) {
		ws, ok := socket.(*websocket.Conn)
		if !ok {
			return nil, fmt.Errorf("%w: %T", errNotWebSocket, socket)
		}
		c := newConn(handle, ws, sessionID, t.sched, t.cfg, t.logger)
		c.onExit = func() { t.forget(ws) }
		c.start()
		return c, nil
	}
}

// CloseAll closes every socket the transport still holds. Used at shutdown,
// after the processor has stopped.
func (t *Transport) CloseAll() {
	t.mu.Lock()
	sockets := make([]*websocket.Conn, 0, len(t.sockets))
	for ws := range t.sockets {
		sockets = append(sockets, ws)
	}
	t.sockets = make(map[*websocket.Conn]struct{})
	t.mu.Unlock()

	for _, ws := range sockets {
		//nolint:errcheck // Best-effort close message
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ws.Close() //nolint:errcheck // shutting down
	}
	if len(sockets) > 0 {
		t.logger.Info("websocket clients closed", "count", len(sockets))
	}
}

// Count returns the number of open sockets.
func (t *Transport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}

func (t *Transport) track(ws *websocket.Conn) {
	t.mu.Lock()
	t.sockets[ws] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) forget(ws *websocket.Conn) {
	t.mu.Lock()
	delete(t.sockets, ws)
	t.mu.Unlock()
}

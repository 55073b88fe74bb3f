package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// ErrSlowConsumer is returned by Flush when the client is not reading fast
// enough to keep its send buffer from overflowing.
var ErrSlowConsumer = errors.New("session: send buffer full")

// maxCloseReason is the longest reason a close frame can carry.
const maxCloseReason = 123

// Conn is one client connection.
//
// Thread Safety: the read pump only touches the inbox and the write pump
// only the socket. Everything else is called by the processor's worker.
type Conn struct {
	handle taskproc.Handle
	ws     *websocket.Conn
	obj    *taskproc.ConnectionObject
	sched  Scheduler
	cfg    Config
	logger Logger

	inMu  sync.Mutex
	inbox [][]byte

	// Worker-only state.
	pending         [][]byte
	failures        int
	loginPending    bool
	loginID         string
	passwordPending bool
	passwordID      string

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	closeReason string

	// onExit runs once the write pump has released the socket.
	onExit func()
}

func newConn(handle taskproc.Handle, ws *websocket.Conn, sessionID string, sched Scheduler, cfg Config, logger Logger) *Conn {
	return &Conn{
		handle: handle,
		ws:     ws,
		obj:    taskproc.NewConnectionObject(sessionID, ws.RemoteAddr().String()),
		sched:  sched,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Handle implements taskproc.Connection.
func (c *Conn) Handle() taskproc.Handle { return c.handle }

// Object implements taskproc.Connection.
func (c *Conn) Object() *taskproc.ConnectionObject { return c.obj }

// start launches the pumps.
func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// ProcessMessages implements taskproc.Connection. It handles every frame
// the read pump has buffered so far.
func (c *Conn) ProcessMessages(ctx context.Context, ops taskproc.Operations) {
	c.inMu.Lock()
	frames := c.inbox
	c.inbox = nil
	c.inMu.Unlock()

	for _, data := range frames {
		if c.isClosed() {
			return
		}
		c.handleMessage(ctx, ops, data)
	}
}

// Notify implements taskproc.Connection.
func (c *Conn) Notify(n taskproc.Notification) bool {
	return c.buffer(notificationFrame(n))
}

// Flush implements taskproc.Connection. It hands pending frames to the
// write pump without blocking.
func (c *Conn) Flush() error {
	if c.isClosed() {
		c.pending = nil
		return fmt.Errorf("%w: connection closed", taskproc.ErrTransport)
	}
	for i, frame := range c.pending {
		select {
		case c.send <- frame:
		default:
			lost := len(c.pending) - i
			c.pending = nil
			return fmt.Errorf("%w: %d frames undelivered", ErrSlowConsumer, lost)
		}
	}
	c.pending = c.pending[:0]
	return nil
}

// LoginSucceeded implements taskproc.Connection.
func (c *Conn) LoginSucceeded() {
	id := c.loginID
	c.loginPending, c.loginID = false, ""
	c.failures = 0

	user := c.obj.User()
	result := LoginResult{User: user.Username, Role: string(user.Role)}
	if c.cfg.TokenSecret != "" {
		token, err := auth.GenerateSessionToken(user, c.obj.SessionID(), c.cfg.TokenSecret, c.cfg.TokenTTL)
		if err != nil {
			c.logger.Warn("issuing session token", "session", c.obj.SessionID(), "error", err)
		} else {
			result.Token = token
		}
	}
	c.reply(Frame{Type: TypeResponse, ID: id, Value: result})
}

// LoginFailed implements taskproc.Connection. Every failure looks the same
// to the client.
func (c *Conn) LoginFailed() bool {
	id := c.loginID
	c.loginPending, c.loginID = false, ""
	c.failures++
	c.reply(errorFrame(id, CodeLoginFailed, "login failed"))
	return c.cfg.MaxLoginFailures > 0 && c.failures >= c.cfg.MaxLoginFailures
}

// PasswordChanged implements taskproc.Connection.
func (c *Conn) PasswordChanged() {
	id := c.passwordID
	c.passwordPending, c.passwordID = false, ""
	c.reply(Frame{Type: TypeResponse, ID: id})
}

// PasswordChangeFailed implements taskproc.Connection.
func (c *Conn) PasswordChangeFailed(err error) {
	id := c.passwordID
	c.passwordPending, c.passwordID = false, ""
	if errors.Is(err, taskproc.ErrNotLoggedIn) {
		c.reply(errorFrame(id, CodeNotLoggedIn, "not logged in"))
		return
	}
	c.reply(errorFrame(id, CodePasswordFailed, "password change failed"))
}

// Close implements taskproc.Connection. Frames already flushed are still
// written, followed by a close frame carrying reason. The socket itself is
// closed by the write pump.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		// Replies produced by the task that closes us, such as a final
		// login rejection, still go out.
		for _, frame := range c.pending {
			select {
			case c.send <- frame:
			default:
			}
		}
		c.pending = nil
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// reply buffers a frame and schedules a flush when the buffer was empty.
func (c *Conn) reply(f Frame) {
	if !c.buffer(f) {
		return
	}
	if err := c.sched.Flush(c); err != nil {
		c.logger.Debug("scheduling flush", "session", c.obj.SessionID(), "error", err)
	}
}

// buffer encodes f onto the pending list and reports whether the list was
// empty before.
func (c *Conn) buffer(f Frame) bool {
	if c.isClosed() {
		return false
	}
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("encoding frame", "type", f.Type, "error", err)
		return false
	}
	c.pending = append(c.pending, data)
	return len(c.pending) == 1
}

// enqueueInbound stores a frame from the read pump. The first frame of a
// batch schedules a ProcessMessages task; later ones ride along.
func (c *Conn) enqueueInbound(data []byte) error {
	c.inMu.Lock()
	if len(c.inbox) >= c.cfg.MaxInbox {
		c.inMu.Unlock()
		return errors.New("too many unprocessed requests")
	}
	first := len(c.inbox) == 0
	c.inbox = append(c.inbox, data)
	c.inMu.Unlock()

	if first {
		return c.sched.ProcessMessages(c)
	}
	return nil
}

// readPump reads frames until the socket fails or is closed.
func (c *Conn) readPump() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	deadline := c.cfg.PingInterval + c.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			reason := "client closed connection"
			switch {
			case c.isClosed():
				c.logger.Debug("websocket read stopped", "session", c.obj.SessionID())
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				reason = "read failed"
				c.logger.Warn("websocket read error", "session", c.obj.SessionID(), "error", err)
			default:
				c.logger.Debug("websocket closed", "session", c.obj.SessionID(), "error", err)
			}
			c.disconnect(reason)
			return
		}
		// Any client frame keeps the connection alive, even from clients
		// that never answer protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.ws.SetReadDeadline(time.Now().Add(deadline))

		if err := c.enqueueInbound(data); err != nil {
			c.logger.Warn("dropping connection", "session", c.obj.SessionID(), "error", err)
			c.disconnect("request backlog exceeded")
			return
		}
	}
}

// writePump writes flushed frames and keepalive pings. On Close it drains
// what was already flushed, sends a close frame and closes the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close() //nolint:errcheck // socket is being abandoned
		if c.onExit != nil {
			c.onExit()
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "session", c.obj.SessionID(), "error", err)
				c.disconnect("write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.disconnect("write failed")
				return
			}
		case <-c.done:
			c.drain()
			//nolint:errcheck // Best-effort close message
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason))
			return
		}
	}
}

func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	//nolint:errcheck // Best-effort deadline; write error caught by caller
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) disconnect(reason string) {
	if err := c.sched.ScheduleDisconnect(c.handle, reason); err != nil {
		c.logger.Debug("scheduling disconnect", "session", c.obj.SessionID(), "error", err)
		c.ws.Close() //nolint:errcheck // processor is gone; release the socket
	}
}

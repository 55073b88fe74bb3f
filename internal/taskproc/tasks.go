package taskproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// ScheduleConnect builds a connection from an accepted socket, publishes its
// namespace object and registers it. If building or registering fails, the
// socket is closed. The returned error only reports enqueue failure, in
// which case the socket is closed too.
func (p *Processor) ScheduleConnect(handle Handle, socket io.Closer, factory ConnectionFactory) error {
	err := p.enqueue("connect", func(context.Context) {
		p.connect(handle, socket, factory)
	})
	if err != nil {
		closeQuietly(socket)
	}
	return err
}

func (p *Processor) connect(handle Handle, socket io.Closer, factory ConnectionFactory) {
	conn, err := factory(handle, socket)
	if err != nil {
		closeQuietly(socket)
		p.logger.Error("building connection", "handle", uint64(handle), "error", err)
		return
	}

	obj := conn.Object()
	obj.transition(StateUnauthenticated)
	if err := p.addObject(obj); err != nil {
		closeQuietly(closer{conn})
		p.logger.Error("registering connection object", "session", obj.SessionID(), "error", err)
		return
	}
	if err := p.registry.Add(conn); err != nil {
		if _, rmErr := p.ns.RemoveObject(obj); rmErr != nil {
			p.logger.Warn("removing orphaned connection object", "session", obj.SessionID(), "error", rmErr)
		}
		closeQuietly(closer{conn})
		p.logger.Error("registering connection", "handle", uint64(handle), "error", err)
		return
	}

	p.publishSessions()
	p.record(audit.ActionConnect, TypeConnection, obj.SessionID(), "", nil)
	p.logger.Info("connection registered", "handle", uint64(handle), "session", obj.SessionID())
}

// ScheduleDisconnect disconnects the connection registered under handle.
// Unknown handles are ignored, so repeated disconnects are harmless.
func (p *Processor) ScheduleDisconnect(handle Handle, reason string) error {
	return p.enqueue("disconnect", func(context.Context) {
		if conn, ok := p.registry.Lookup(handle); ok {
			p.disconnect(conn, reason)
		}
	})
}

// DisconnectConnection disconnects conn.
func (p *Processor) DisconnectConnection(conn Connection, reason string) error {
	return p.enqueue("disconnect", func(context.Context) {
		p.disconnect(conn, reason)
	})
}

// disconnect deregisters and closes conn; a second call is a no-op. The
// connection's namespace object is removed by a further task, so tasks
// already queued still see it.
func (p *Processor) disconnect(conn Connection, reason string) {
	if !p.registry.Remove(conn) {
		return
	}

	obj := conn.Object()
	obj.transition(StateDisconnected)
	if err := conn.Close(reason); err != nil {
		p.logTransportError("closing connection", obj.SessionID(), err)
	}

	p.publishSessions()
	p.record(audit.ActionDisconnect, TypeConnection, obj.SessionID(), userID(obj.User()),
		map[string]any{"reason": reason})
	p.logger.Info("connection closed", "session", obj.SessionID(), "user", obj.Owner(), "reason", reason)

	err := p.enqueue("remove_connection", func(context.Context) {
		if err := p.removeObject(obj); err != nil && !errors.Is(err, namespace.ErrNotFound) {
			p.logger.Warn("removing connection object", "session", obj.SessionID(), "error", err)
		}
	})
	if err != nil {
		p.logger.Debug("connection object left in place", "session", obj.SessionID(), "error", err)
	}
}

// ProcessMessages lets conn apply its buffered client messages, attributed
// to its user.
func (p *Processor) ProcessMessages(conn Connection) error {
	return p.enqueue("process_messages", func(ctx context.Context) {
		if !p.registry.Contains(conn) {
			return
		}
		p.ns.Attribute(conn.Object().User())
		defer p.ns.ClearAttribution()
		conn.ProcessMessages(ctx, p.ops)
	})
}

// Flush asks conn to write its pending output. A write failure disconnects.
func (p *Processor) Flush(conn Connection) error {
	return p.enqueue("flush", func(context.Context) {
		if !p.registry.Contains(conn) {
			return
		}
		if err := conn.Flush(); err != nil {
			p.logTransportError("flushing connection", conn.Object().SessionID(), err)
			p.disconnect(conn, "write failed")
		}
	})
}

// Authenticate starts a login for conn from outside the worker.
func (p *Processor) Authenticate(conn Connection, username string, password []byte) error {
	err := p.enqueue("authenticate", func(context.Context) {
		p.authenticate(conn, username, password)
	})
	if err != nil {
		auth.Zero(password)
	}
	return err
}

// authenticate looks the user up and hands the password to the
// authenticator. An unknown user is checked against decoy credentials and
// then takes the same FailLogin path as a wrong password, so the two cannot
// be told apart by response time.
func (p *Processor) authenticate(conn Connection, username string, password []byte) {
	obj, _ := p.ns.Lookup(name.New(auth.TypeUser, username))
	user, known := obj.(*auth.User)
	if p.authn == nil {
		auth.Zero(password)
		reason := audit.ReasonDirectoryUnavailable
		if !known {
			reason = audit.ReasonUnknownUser
		}
		p.enqueueOrLog(p.FailLogin(conn, username, reason))
		return
	}

	creds := auth.DecoyCredentials(username)
	if known {
		creds = user.Credentials()
	}
	results := p.authn.Authenticate(creds, password)
	go func() {
		res := <-results
		switch {
		case !known:
			p.enqueueOrLog(p.FailLogin(conn, username, audit.ReasonUnknownUser))
		case res.OK():
			p.enqueueOrLog(p.FinishLogin(conn, username, res.NewHash))
		default:
			p.logger.Debug("login rejected", "username", username, "error", res.Err)
			p.enqueueOrLog(p.FailLogin(conn, username, failureReason(res)))
		}
	}()
}

// FinishLogin completes a successful login: the connection becomes
// authenticated and readers of its "user" attribute are notified. A
// non-empty newHash refreshes the cached password hash.
func (p *Processor) FinishLogin(conn Connection, username, newHash string) error {
	return p.enqueue("finish_login", func(context.Context) {
		if !p.registry.Contains(conn) {
			return
		}
		obj, _ := p.ns.Lookup(name.New(auth.TypeUser, username))
		user, ok := obj.(*auth.User)
		if !ok {
			p.failLogin(conn, username, audit.ReasonUnknownUser)
			return
		}

		if newHash != "" {
			if err := p.setAttribute(user.ObjectName().WithAttribute(auth.AttrPasswordHash), newHash); err != nil {
				p.logger.Warn("caching password hash", "username", username, "error", err)
			}
		}

		co := conn.Object()
		co.login(user)
		conn.LoginSucceeded()

		n := co.ObjectName()
		p.notifyChanged(n.WithAttribute(AttrUser), co)
		p.notifyChanged(n.WithAttribute(AttrState), co)
		p.record(audit.ActionLogin, auth.TypeUser, username, user.ID,
			map[string]any{"session_id": co.SessionID()})
		p.logger.Info("login succeeded", "username", username, "session", co.SessionID())
	})
}

// FailLogin records a failed login with reason and tells the connection.
// Clients see the same rejection whatever the reason.
func (p *Processor) FailLogin(conn Connection, username, reason string) error {
	return p.enqueue("fail_login", func(context.Context) {
		p.failLogin(conn, username, reason)
	})
}

func (p *Processor) failLogin(conn Connection, username, reason string) {
	sessionID := conn.Object().SessionID()
	p.record(audit.ActionLoginFailed, auth.TypeUser, username, "",
		map[string]any{"reason": reason, "session_id": sessionID})
	p.logger.Info("login failed", "username", username, "reason", reason, "session", sessionID)

	if !p.registry.Contains(conn) {
		return
	}
	if conn.LoginFailed() {
		p.disconnect(conn, "too many failed logins")
	}
}

// ChangePassword starts a password change from outside the worker.
func (p *Processor) ChangePassword(conn Connection, oldPassword, newPassword []byte) error {
	err := p.enqueue("change_password", func(context.Context) {
		p.changePassword(conn, oldPassword, newPassword)
	})
	if err != nil {
		auth.Zero(oldPassword)
		auth.Zero(newPassword)
	}
	return err
}

func (p *Processor) changePassword(conn Connection, oldPassword, newPassword []byte) {
	user := conn.Object().User()
	if user == nil || p.authn == nil {
		auth.Zero(oldPassword)
		auth.Zero(newPassword)
		username := ""
		if user != nil {
			username = user.Username
		}
		p.enqueueOrLog(p.FailPassword(conn, username, ErrNotLoggedIn))
		return
	}

	username := user.Username
	results := p.authn.ChangePassword(user.Credentials(), oldPassword, newPassword)
	go func() {
		res := <-results
		if res.OK() {
			p.enqueueOrLog(p.FinishPassword(conn, username, res.NewHash))
			return
		}
		p.enqueueOrLog(p.FailPassword(conn, username, res.Err))
	}()
}

// FinishPassword stores the new hash. Any failure, including a panic, is
// redirected into a FailPassword task.
func (p *Processor) FinishPassword(conn Connection, username, newHash string) error {
	return p.enqueue("finish_password", func(context.Context) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("finishing password change panicked", "username", username, "panic", fmt.Sprint(r))
				p.enqueueOrLog(p.FailPassword(conn, username, fmt.Errorf("storing password: %v", r)))
			}
		}()

		if newHash != "" {
			n := name.New(auth.TypeUser, username).WithAttribute(auth.AttrPasswordHash)
			if err := p.setAttribute(n, newHash); err != nil {
				p.enqueueOrLog(p.FailPassword(conn, username, err))
				return
			}
		}

		p.record(audit.ActionPasswordChange, auth.TypeUser, username, userID(conn.Object().User()), nil)
		p.logger.Info("password changed", "username", username)
		if p.registry.Contains(conn) {
			conn.PasswordChanged()
		}
	})
}

// FailPassword records a failed password change and tells the connection.
func (p *Processor) FailPassword(conn Connection, username string, cause error) error {
	return p.enqueue("fail_password", func(context.Context) {
		reason := audit.ReasonBadCredentials
		if errors.Is(cause, auth.ErrDirectoryUnavailable) {
			reason = audit.ReasonDirectoryUnavailable
		}
		p.record(audit.ActionPasswordChangeFailed, auth.TypeUser, username, "",
			map[string]any{"reason": reason})
		p.logger.Info("password change failed", "username", username, "error", cause)
		if p.registry.Contains(conn) {
			conn.PasswordChangeFailed(cause)
		}
	})
}

// ScheduleAddObject adds obj on the worker. Failures are logged.
func (p *Processor) ScheduleAddObject(obj namespace.Object) error {
	return p.enqueue("add_object", func(context.Context) {
		if err := p.addObject(obj); err != nil {
			p.logger.Warn("adding object", "name", obj.ObjectName().String(), "error", err)
		}
	})
}

// ScheduleRemoveObject removes obj on the worker. Failures are logged.
func (p *Processor) ScheduleRemoveObject(obj namespace.Object) error {
	return p.enqueue("remove_object", func(context.Context) {
		if err := p.removeObject(obj); err != nil {
			p.logger.Warn("removing object", "name", obj.ObjectName().String(), "error", err)
		}
	})
}

// ScheduleSetAttribute sets attr on obj on the worker. Failures are logged.
func (p *Processor) ScheduleSetAttribute(obj namespace.Object, attr string, value any) error {
	return p.enqueue("set_attribute", func(context.Context) {
		n, ok := p.ns.NameOf(obj)
		if !ok {
			p.logger.Warn("setting attribute on absent object", "name", obj.ObjectName().String(), "attribute", attr)
			return
		}
		if err := p.setAttribute(n.WithAttribute(attr), value); err != nil {
			p.logger.Warn("setting attribute", "name", n.WithAttribute(attr).String(), "error", err)
		}
	})
}

// Store task states; the first to move a store out of storePending wins.
const (
	storePending int32 = iota
	storeStarted
	storeAbandoned
)

// StoreObject upserts obj and waits for the outcome. Called with a context
// handed out by the worker, it runs inline. Otherwise it waits up to the
// configured budget; on ErrTimeout the mutation is guaranteed not to run.
func (p *Processor) StoreObject(ctx context.Context, obj namespace.Object) error {
	if p.onWorker(ctx) {
		return p.storeObject(obj)
	}

	var state atomic.Int32
	result := make(chan error, 1)
	err := p.enqueue("store_object", func(context.Context) {
		if !state.CompareAndSwap(storePending, storeStarted) {
			p.logger.Debug("skipping abandoned store", "name", obj.ObjectName().String())
			return
		}
		result <- p.storeObject(obj)
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(p.cfg.StoreTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		if state.CompareAndSwap(storePending, storeAbandoned) {
			p.metrics.storeTimedOut()
			return fmt.Errorf("%w: storing %s after %s", ErrTimeout, obj.ObjectName(), p.cfg.StoreTimeout)
		}
		// The worker picked it up just in time; it is running now.
		return <-result
	case <-ctx.Done():
		if state.CompareAndSwap(storePending, storeAbandoned) {
			return ctx.Err()
		}
		return <-result
	case <-p.done:
		if state.CompareAndSwap(storePending, storeAbandoned) {
			return ErrStopped
		}
		return <-result
	}
}

func (p *Processor) enqueueOrLog(err error) {
	if err != nil {
		p.logger.Debug("completion task dropped", "error", err)
	}
}

func (p *Processor) logTransportError(msg, sessionID string, err error) {
	if isBenign(err) {
		p.logger.Debug(msg, "session", sessionID, "error", err)
		return
	}
	p.logger.Warn(msg, "session", sessionID, "error", err)
}

func failureReason(res auth.Result) string {
	switch {
	case res.DirectoryFailure():
		return audit.ReasonDirectoryUnavailable
	case errors.Is(res.Err, auth.ErrUserInactive):
		return audit.ReasonInactive
	default:
		return audit.ReasonBadCredentials
	}
}

func userID(u *auth.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close() //nolint:errcheck // releasing a socket we are abandoning
	}
}

// closer adapts a Connection to io.Closer for abandoned registrations.
type closer struct{ conn Connection }

func (c closer) Close() error { return c.conn.Close("registration failed") }

// Sessions returns a copy of every registered connection's state, sorted by
// session id. The copy is taken on the worker, so it waits behind queued
// tasks until ctx is done.
func (p *Processor) Sessions(ctx context.Context) ([]SessionInfo, error) {
	result := make(chan []SessionInfo, 1)
	err := p.enqueue("list_sessions", func(context.Context) {
		conns := p.registry.Snapshot()
		out := make([]SessionInfo, 0, len(conns))
		for _, c := range conns {
			out = append(out, c.Object().info())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
		result <- out
	})
	if err != nil {
		return nil, err
	}

	select {
	case out := <-result:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrStopped
	}
}

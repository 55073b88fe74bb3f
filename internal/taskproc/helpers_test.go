package taskproc

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

const testPassword = "correct horse"

var testHash = sync.OnceValue(func() string {
	h, err := auth.HashPassword([]byte(testPassword))
	if err != nil {
		panic(err)
	}
	return h
})

// fakeConn is a Connection that records everything the processor does to it.
type fakeConn struct {
	handle Handle
	obj    *ConnectionObject

	// maxFailures > 0 makes LoginFailed ask for a disconnect once reached.
	maxFailures int
	flushErr    error

	mu           sync.Mutex
	notes        []Notification
	pending      int
	flushes      int
	loginOK      int
	loginFail    int
	passwordOK   int
	passwordErrs []error
	closed       int
	closeReason  string
	script       []func(ctx context.Context, ops Operations)
}

func newFakeConn(handle Handle, sessionID string) *fakeConn {
	return &fakeConn{handle: handle, obj: NewConnectionObject(sessionID, "127.0.0.1:5000")}
}

func (c *fakeConn) Handle() Handle { return c.handle }
func (c *fakeConn) Object() *ConnectionObject { return c.obj }

func (c *fakeConn) ProcessMessages(ctx context.Context, ops Operations) {
	c.mu.Lock()
	script := c.script
	c.script = nil
	c.mu.Unlock()
	for _, step := range script {
		step(ctx, ops)
	}
}

func (c *fakeConn) Notify(n Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
	c.pending++
	return c.pending == 1
}

func (c *fakeConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	c.pending = 0
	return c.flushErr
}

func (c *fakeConn) LoginSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginOK++
}

func (c *fakeConn) LoginFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginFail++
	return c.maxFailures > 0 && c.loginFail >= c.maxFailures
}

func (c *fakeConn) PasswordChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwordOK++
}

func (c *fakeConn) PasswordChangeFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwordErrs = append(c.passwordErrs, err)
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	c.closeReason = reason
	return nil
}

func (c *fakeConn) queue(step func(ctx context.Context, ops Operations)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, step)
}

// notesFor returns the notifications received for the object named n.
func (c *fakeConn) notesFor(n name.Name) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Notification
	for _, note := range c.notes {
		if note.Name.ObjectName() == n {
			out = append(out, note)
		}
	}
	return out
}

func (c *fakeConn) counts() (ok, fail int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginOK, c.loginFail
}

// socket is an io.Closer that counts closes.
type socket struct {
	mu     sync.Mutex
	closed int
}

func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *socket) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingAuditor keeps audit entries in memory.
type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.AuditLog
}

func (a *recordingAuditor) Record(e *audit.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
}

func (a *recordingAuditor) byAction(action string) []audit.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.AuditLog
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	p       *Processor
	ns      *namespace.Namespace
	auditor *recordingAuditor
}

// newHarness starts a processor over a namespace holding alice and bob
// (user role), kiosk (panel) and root (admin), all with testPassword.
func newHarness(t *testing.T, cfg Config, setup ...func(p *Processor)) *harness {
	t.Helper()

	ns := namespace.New()
	require.NoError(t, ns.RegisterType(ConnectionSpec()))
	require.NoError(t, ns.RegisterType(namespace.UserSpec(nil)))
	require.NoError(t, ns.RegisterType(namespace.RecordSpec(namespace.TypeRecord, nil)))

	for _, u := range []*auth.User{
		{ID: "usr-alice", Username: "alice", Role: auth.RoleUser, RoomIDs: []string{"room-kitchen"}},
		{ID: "usr-bob", Username: "bob", Role: auth.RoleUser},
		{ID: "usr-kiosk", Username: "kiosk", Role: auth.RolePanel, RoomIDs: []string{"room-kitchen"}},
		{ID: "usr-root", Username: "root", Role: auth.RoleAdmin},
	} {
		u.PasswordHash = testHash()
		u.Source = auth.SourceLocal
		u.IsActive = true
		require.NoError(t, ns.AddObject(u))
	}

	ctx, cancel := context.WithCancel(context.Background())
	authn := auth.NewAuthenticator(auth.AuthenticatorConfig{Workers: 2, QueueSize: 16}, nil)
	authn.Start(ctx)

	p := New(ns, authn, cfg)
	aud := &recordingAuditor{}
	p.SetAuditor(aud)
	for _, fn := range setup {
		fn(p)
	}

	go func() { _ = p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-p.Done()
		_ = authn.Stop(time.Second)
	})

	return &harness{p: p, ns: ns, auditor: aud}
}

// drain waits until every task enqueued so far has run.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, h.p.enqueue("sync", func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
}

// onWorker runs fn as a task and waits for it.
func (h *harness) onWorker(t *testing.T, fn func(ctx context.Context)) {
	t.Helper()
	require.NoError(t, h.p.enqueue("test", fn))
	h.drain(t)
}

// connect registers a fake connection and waits until it is live.
func (h *harness) connect(t *testing.T, handle Handle, sessionID string) *fakeConn {
	t.Helper()
	c := newFakeConn(handle, sessionID)
	require.NoError(t, h.p.ScheduleConnect(handle, &socket{}, func(Handle, io.Closer) (Connection, error) {
		return c, nil
	}))
	h.drain(t)
	return c
}

// login authenticates c and waits for the outcome.
func (h *harness) login(t *testing.T, c *fakeConn, username, password string) {
	t.Helper()
	okBefore, failBefore := c.counts()
	require.NoError(t, h.p.Authenticate(c, username, []byte(password)))
	require.Eventually(t, func() bool {
		ok, fail := c.counts()
		return ok+fail > okBefore+failBefore
	}, 10*time.Second, 5*time.Millisecond)
	h.drain(t)
}

func (c *fakeConn) closedWith() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// lookupUser fetches a user object on the worker.
func (h *harness) lookupUser(t *testing.T, username string) *auth.User {
	t.Helper()
	var u *auth.User
	h.onWorker(t, func(context.Context) {
		obj, ok := h.ns.Lookup(name.New(auth.TypeUser, username))
		require.True(t, ok, "user %s", username)
		u = obj.(*auth.User)
	})
	return u
}

// countingAuthenticator records the credentials every login is checked
// against.
type countingAuthenticator struct {
	Authenticator

	mu    sync.Mutex
	creds []auth.Credentials
}

func (a *countingAuthenticator) Authenticate(creds auth.Credentials, password []byte) <-chan auth.Result {
	a.mu.Lock()
	a.creds = append(a.creds, creds)
	a.mu.Unlock()
	return a.Authenticator.Authenticate(creds, password)
}

func (a *countingAuthenticator) checked() []auth.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auth.Credentials(nil), a.creds...)
}

// debugLog keeps Debug messages; other levels are discarded.
type debugLog struct {
	noopLogger

	mu   sync.Mutex
	msgs []string
}

func (l *debugLog) Debug(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *debugLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

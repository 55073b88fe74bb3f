package taskproc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// DefaultStoreTimeout is the StoreObject wait budget when none is configured.
const DefaultStoreTimeout = 30 * time.Second

// Logger defines the logging interface used by the Processor.
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

// Authenticator checks credentials off the worker. Each call delivers
// exactly one Result on the returned channel. *auth.Authenticator
// implements it.
type Authenticator interface {
	Authenticate(creds auth.Credentials, password []byte) <-chan auth.Result
	ChangePassword(creds auth.Credentials, oldPassword, newPassword []byte) <-chan auth.Result
}

// Auditor receives audit entries. It must not block; *audit.Recorder
// implements it.
type Auditor interface {
	Record(entry *audit.AuditLog)
}

type noopAuditor struct{}

func (noopAuditor) Record(*audit.AuditLog) {}

// Config configures a Processor.
type Config struct {
	// StoreTimeout bounds how long StoreObject waits for the worker.
	// Default: 30s.
	StoreTimeout time.Duration
}

// task is one unit of work for the worker.
type task struct {
	kind string
	run  func(ctx context.Context)
}

// workerKey marks contexts handed to tasks, so StoreObject can tell that it
// is already running on the worker.
type workerKey struct{}

// Processor serializes every namespace mutation and connection lifecycle
// transition onto one worker goroutine.
//
// Thread Safety: the exported Schedule* methods, StoreObject and Lookup are
// safe for concurrent use. Setters must be called before Run.
type Processor struct {
	ns       *namespace.Namespace
	authn    Authenticator
	auditor  Auditor
	registry *Registry
	sessions *SessionListWriter
	metrics  *Metrics
	logger   Logger
	cfg      Config

	observers []Observer
	ops       *inlineOps

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	running bool
	stopped bool
	done    chan struct{}

	panics atomic.Uint64
}

// New creates a processor that owns ns. authn may be nil, in which case
// every login fails as a directory failure.
func New(ns *namespace.Namespace, authn Authenticator, cfg Config) *Processor {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	p := &Processor{
		ns:       ns,
		authn:    authn,
		auditor:  noopAuditor{},
		registry: NewRegistry(),
		logger:   noopLogger{},
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.ops = &inlineOps{p: p}
	return p
}

// SetLogger sets the logger for the processor.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// SetAuditor sets where login, password and session events are recorded.
func (p *Processor) SetAuditor(a Auditor) {
	p.auditor = a
}

// SetSessionList sets the writer that persists live session ids after
// every connect and disconnect. Without one, nothing is persisted.
func (p *Processor) SetSessionList(w *SessionListWriter) {
	p.sessions = w
}

// SetMetrics sets the Prometheus collectors.
func (p *Processor) SetMetrics(m *Metrics) {
	p.metrics = m
}

// AddObserver registers an observer for applied mutations.
func (p *Processor) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Registry returns the live connection registry.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Lookup returns the connection registered under handle. It never waits
// for the worker.
func (p *Processor) Lookup(handle Handle) (Connection, bool) {
	return p.registry.Lookup(handle)
}

// Panics returns how many tasks panicked.
func (p *Processor) Panics() uint64 {
	return p.panics.Load()
}

// Done is closed when the worker has exited.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Run executes tasks in enqueue order until ctx is cancelled. Tasks still
// queued at that point are discarded.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer close(p.done)

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	wctx := context.WithValue(context.WithoutCancel(ctx), workerKey{}, p)
	p.logger.Info("task processor started")

	for {
		t, ok := p.next()
		if !ok {
			p.logger.Info("task processor stopped")
			return nil
		}
		p.execute(wctx, t)
	}
}

// next blocks until a task is available or the processor stops.
func (p *Processor) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		if n := len(p.queue); n > 0 {
			p.logger.Warn("discarding queued tasks at shutdown", "count", n)
		}
		p.queue = nil
		return task{}, false
	}

	t := p.queue[0]
	p.queue[0] = task{}
	p.queue = p.queue[1:]
	p.metrics.setQueueDepth(len(p.queue))
	return t, true
}

// enqueue appends a task. It never blocks on the worker.
func (p *Processor) enqueue(kind string, run func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("%w: %s", ErrStopped, kind)
	}
	p.queue = append(p.queue, task{kind: kind, run: run})
	p.metrics.setQueueDepth(len(p.queue))
	p.cond.Signal()
	return nil
}

// execute runs one task to completion. A panic is logged with its stack
// and counted; the queue carries on.
func (p *Processor) execute(ctx context.Context, t task) {
	start := time.Now()
	defer func() {
		p.ns.ClearAttribution()
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.metrics.panicked()
			p.logger.Error("task panicked",
				"task", t.kind,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		p.metrics.observeTask(t.kind, time.Since(start))
	}()

	t.run(ctx)
}

// onWorker reports whether ctx was handed out by this processor's worker.
func (p *Processor) onWorker(ctx context.Context) bool {
	owner, _ := ctx.Value(workerKey{}).(*Processor)
	return owner == p
}

// publishSessions hands the current session ids to the session list writer.
func (p *Processor) publishSessions() {
	conns := p.registry.Snapshot()
	p.metrics.setConnections(len(conns))
	if p.sessions == nil {
		return
	}
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.Object().SessionID())
	}
	sort.Strings(ids)
	p.sessions.Update(ids)
}

func (p *Processor) record(action, entityType, entityID, userID string, details map[string]any) {
	p.auditor.Record(&audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     audit.SourceSync,
		Details:    details,
	})
}

package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// Actions written by the sync server.
const (
	ActionConnect              = "connect"
	ActionDisconnect           = "disconnect"
	ActionLogin                = "login"
	ActionLoginFailed          = "login_failed"
	ActionPasswordChange       = "password_change"
	ActionPasswordChangeFailed = "password_change_failed"
)

// Login failure reasons. Clients never see these; they only land in the
// audit trail.
const (
	ReasonUnknownUser          = "unknown_user"
	ReasonBadCredentials       = "bad_credentials"
	ReasonInactive             = "inactive"
	ReasonDirectoryUnavailable = "directory_unavailable"
)

// SourceSync marks entries written by the synchronization core.
const SourceSync = "sync"

// defaultRecorderBuffer is the channel size used when none is given.
const defaultRecorderBuffer = 256

// writeTimeout bounds a single repository write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
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

// Recorder writes audit entries asynchronously through a single writer
// goroutine so callers (the task processor worker in particular) never wait
// on SQLite.
//
// Record is best-effort: when the buffer is full the entry is dropped and a
// warning logged.
type Recorder struct {
	repo    Repository
	entries chan *AuditLog
	logger  Logger
	dropped atomic.Uint64
}

// NewRecorder creates a recorder over repo with the given buffer size.
func NewRecorder(repo Repository, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		repo:    repo,
		entries: make(chan *AuditLog, buffer),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record enqueues entry without blocking.
func (r *Recorder) Record(entry *AuditLog) {
	if entry.Source == "" {
		entry.Source = SourceSync
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case r.entries <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes entries until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-r.entries:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.entries:
					r.write(entry)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(entry *AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

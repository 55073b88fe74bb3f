package taskproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// sessionWriteTimeout bounds one sink write.
const sessionWriteTimeout = 10 * time.Second

// sessionFilePermissions keeps the session list private to the service user.
const sessionFilePermissions = 0600

// SessionSink persists the list of live session ids.
type SessionSink interface {
	WriteSessions(ctx context.Context, ids []string) error
}

// SessionListWriter persists session lists on its own goroutine. Only the
// latest list matters: updates that arrive while a write is in flight
// replace each other and only the newest is written next. Failures are
// logged and never reach the processor.
type SessionListWriter struct {
	sink   SessionSink
	logger Logger

	mu      sync.Mutex
	latest  []string
	pending bool
	wake    chan struct{}
}

// NewSessionListWriter creates a writer for sink.
func NewSessionListWriter(sink SessionSink) *SessionListWriter {
	return &SessionListWriter{
		sink:   sink,
		logger: noopLogger{},
		wake:   make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the writer.
func (w *SessionListWriter) SetLogger(logger Logger) {
	w.logger = logger
}

// Update records ids as the newest list. It never blocks.
func (w *SessionListWriter) Update(ids []string) {
	w.mu.Lock()
	w.latest = slices.Clone(ids)
	w.pending = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run writes pending lists until ctx is cancelled, then writes the last
// pending list once more.
func (w *SessionListWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-w.wake:
			w.writePending(ctx)
		case <-ctx.Done():
			w.writePending(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (w *SessionListWriter) writePending(ctx context.Context) {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	ids := w.latest
	w.pending = false
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sessionWriteTimeout)
	defer cancel()

	if err := w.sink.WriteSessions(ctx, ids); err != nil {
		w.logger.Warn("persisting session list failed", "sessions", len(ids), "error", err)
		return
	}
	w.logger.Debug("session list persisted", "sessions", len(ids))
}

// sessionList is the persisted document.
type sessionList struct {
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
	Sessions  []string  `yaml:"sessions" json:"sessions"`
}

func newSessionList(ids []string) sessionList {
	if ids == nil {
		ids = []string{}
	}
	return sessionList{UpdatedAt: time.Now().UTC(), Sessions: ids}
}

// FileSink writes the session list as a YAML document, replacing the file
// atomically.
type FileSink struct {
	Path string
}

// WriteSessions implements SessionSink.
func (s FileSink) WriteSessions(_ context.Context, ids []string) error {
	data, err := yaml.Marshal(newSessionList(ids))
	if err != nil {
		return fmt.Errorf("encoding session list: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp session list: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("writing session list: %w", err)
	}
	if err := tmp.Chmod(sessionFilePermissions); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("setting session list permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session list: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing session list: %w", err)
	}
	return nil
}

// Publisher publishes retained MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink publishes the session list as a retained JSON message so that
// late subscribers see the current list.
type MQTTSink struct {
	Publisher Publisher
	Topic     string
}

// WriteSessions implements SessionSink.
func (s MQTTSink) WriteSessions(_ context.Context, ids []string) error {
	payload, err := json.Marshal(newSessionList(ids))
	if err != nil {
		return fmt.Errorf("encoding session list: %w", err)
	}
	if err := s.Publisher.PublishRetained(s.Topic, payload); err != nil {
		return fmt.Errorf("publishing session list: %w", err)
	}
	return nil
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []SessionSink

// WriteSessions implements SessionSink.
func (m MultiSink) WriteSessions(ctx context.Context, ids []string) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSessions(ctx, ids); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

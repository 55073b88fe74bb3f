package device

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

const (
	defaultHistoryBuffer = 512
	historyWriteTimeout  = 5 * time.Second
	historyPruneInterval = time.Hour
)

// History records every applied device state change to a repository on
// its own goroutine, so the task processor never waits on SQLite. Entries
// that do not fit the buffer are dropped and counted.
type History struct {
	repo      StateHistoryRepository
	retention time.Duration
	entries   chan StateHistoryEntry
	logger    Logger
	dropped   atomic.Uint64
}

// NewHistory creates a history recorder. A positive retention prunes older
// entries hourly while Run is active.
func NewHistory(repo StateHistoryRepository, buffer int, retention time.Duration) *History {
	if buffer <= 0 {
		buffer = defaultHistoryBuffer
	}
	return &History{
		repo:      repo,
		retention: retention,
		entries:   make(chan StateHistoryEntry, buffer),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (h *History) SetLogger(logger Logger) {
	h.logger = logger
}

// Dropped returns how many entries were discarded because the buffer was full.
func (h *History) Dropped() uint64 {
	return h.dropped.Load()
}

// Observe implements taskproc.Observer. It snapshots the state on the
// worker and never blocks.
func (h *History) Observe(ev taskproc.Event) {
	if ev.Name.Type != TypeDevice {
		return
	}

	var source string
	switch {
	case ev.Kind == taskproc.KindAdded:
		source = SourceDiscovery
	case ev.Kind == taskproc.KindChanged && ev.Name.Attribute == AttrState:
		source = SourceBridge
		if ev.Actor != "" {
			source = SourceClient
		}
	default:
		return
	}

	dev, ok := ev.Object.(*Device)
	if !ok {
		return
	}

	select {
	case h.entries <- StateHistoryEntry{
		DeviceID:  dev.ID,
		State:     dev.State.DeepCopy(),
		Source:    source,
		CreatedAt: time.Now(),
	}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("state history buffer full, dropping entry", "device_id", dev.ID)
	}
}

// Run writes entries until ctx is cancelled, then drains what is left.
func (h *History) Run(ctx context.Context) error {
	var prune <-chan time.Time
	if h.retention > 0 {
		ticker := time.NewTicker(historyPruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		h.prune()
	}

	for {
		select {
		case e := <-h.entries:
			h.write(e)
		case <-prune:
			h.prune()
		case <-ctx.Done():
			for {
				select {
				case e := <-h.entries:
					h.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (h *History) write(e StateHistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := h.repo.Append(ctx, e); err != nil {
		h.logger.Warn("state history write failed", "device_id", e.DeviceID, "error", err)
	}
}

func (h *History) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	n, err := h.repo.PruneBefore(ctx, time.Now().Add(-h.retention))
	if err != nil {
		h.logger.Warn("state history prune failed", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("state history pruned", "deleted", n, "retention", h.retention.String())
	}
}

package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

const serviceName = "graylogic-sync"

// Logger is a slog.Logger that carries the service name and version on
// every record and owns the log file, if there is one.
type Logger struct {
	*slog.Logger
	file io.Closer
}

// New builds a Logger from cfg. Output is stdout unless cfg.Output is
// "stderr" or "file". A log file that cannot be opened falls back to
// stderr and the first record says why.
func New(cfg config.LoggingConfig, version string) *Logger {
	var (
		w       io.Writer = os.Stdout
		file    io.Closer
		fileErr error
	)
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		w = os.Stderr
	case "file":
		if f, err := openLogFile(cfg.File); err != nil {
			w, fileErr = os.Stderr, err
		} else {
			w, file = f, f
		}
	}

	l := NewWithWriter(w, cfg, version)
	l.file = file
	if fileErr != nil {
		l.Warn("log file unavailable, logging to stderr", "path", cfg.File, "error", fileErr)
	}
	return l
}

// NewWithWriter builds a Logger writing JSON, or logfmt text when
// cfg.Format is "text", to w.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("logging.file is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- from config
}

// parseLevel accepts slog level names in any case, plus "warning".
// Unknown names mean info.
func parseLevel(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger sharing the same output.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

// Component tags records with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close closes the log file. Children made with With share it, so only
// the root should be closed.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default is a JSON info logger on stdout, used until config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}

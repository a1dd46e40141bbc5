// Package logger provides the process-wide application log and a separate
// audit trail. The application log is for operators; the audit trail records
// who called which tool and which lifecycle transition resulted, and is the
// record of authority when an intent's history is questioned.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config describes both log streams.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the audit trail. When disabled, audit records share
// the application log so they are never silently dropped.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// registry holds the process-wide logger state. Init wins only once; later
// calls see the first configuration, which matches how the daemons boot.
type registry struct {
	mu      sync.Mutex
	ready   bool
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var global registry

// Init configures both log streams. Safe to call more than once; only the
// first call takes effect.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.ready {
		return nil
	}
	return global.configure(cfg)
}

func (r *registry) configure(cfg Config) error {
	sink, err := r.appSink(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		r.app = slog.New(slog.NewTextHandler(sink, opts))
	} else {
		r.app = slog.New(slog.NewJSONHandler(sink, opts))
	}

	r.audit = r.app
	if cfg.Audit.Enabled {
		trail, err := r.auditSink(cfg.Audit)
		if err != nil {
			return err
		}
		// The audit trail is always JSON and never filtered by level.
		r.audit = slog.New(slog.NewJSONHandler(trail, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	r.ready = true
	return nil
}

func (r *registry) appSink(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	sinks := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			sinks = append(sinks, os.Stdout)
		case "stderr":
			sinks = append(sinks, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			r.closers = append(r.closers, file)
			sinks = append(sinks, file)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return io.MultiWriter(sinks...), nil
}

func (r *registry) auditSink(cfg AuditConfig) (io.Writer, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit trail requires a path when enabled")
	}
	trail, err := newRotatingFile(cfg.Path, rotationLimits{
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, trail)
	return trail, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, bootstrapping defaults if Init was
// never called, as happens in tests.
func L() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if !global.ready {
		_ = global.configure(Config{})
	}
	return global.app
}

// Audit returns the audit trail logger.
func Audit() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if !global.ready {
		_ = global.configure(Config{})
	}
	return global.audit
}

// Named returns an application logger tagged with a component name.
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync closes every file-backed sink. Called on daemon shutdown.
func Sync() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	var err error
	for _, closer := range global.closers {
		err = errors.Join(err, closer.Close())
	}
	global.closers = nil
	return err
}

package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupStamp names rotated audit files, audit.log.20260830T101500.123
// style. Lexical order equals chronological order, which keeps pruning
// simple; millisecond precision keeps rapid rotations from colliding.
const backupStamp = "20060102T150405.000"

// rotationLimits bounds the audit trail on disk. Zero values fall back to
// defaults sized for a long-running intent daemon.
type rotationLimits struct {
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
}

func (l *rotationLimits) applyDefaults() {
	if l.maxBytes <= 0 {
		l.maxBytes = 100 * 1024 * 1024
	}
	if l.maxBackups <= 0 {
		l.maxBackups = 7
	}
	if l.maxAge <= 0 {
		l.maxAge = 30 * 24 * time.Hour
	}
}

// rotatingFile is the sink behind the audit logger. Writes go to the live
// file until it would exceed maxBytes; the file is then renamed to a
// timestamped backup and a fresh one is started. Old backups are pruned by
// count and by age. An audit record is never split across two files.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	limits  rotationLimits
	current *os.File
	written int64
}

func newRotatingFile(path string, limits rotationLimits) (*rotatingFile, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	limits.applyDefaults()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &rotatingFile{path: path, limits: limits}, nil
}

func (f *rotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.open(); err != nil {
		return 0, err
	}
	if f.written > 0 && f.written+int64(len(p)) > f.limits.maxBytes {
		if err := f.roll(); err != nil {
			return 0, err
		}
	}
	n, err := f.current.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *rotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	err := f.current.Close()
	f.current = nil
	f.written = 0
	return err
}

// open lazily attaches to the live file, picking up its existing size so a
// restarted daemon keeps honouring the byte limit.
func (f *rotatingFile) open() error {
	if f.current != nil {
		return nil
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	f.current = file
	f.written = info.Size()
	return nil
}

func (f *rotatingFile) roll() error {
	if err := f.current.Close(); err != nil {
		return fmt.Errorf("close audit file before rotation: %w", err)
	}
	f.current = nil
	f.written = 0

	backup := f.path + "." + time.Now().Format(backupStamp)
	if err := os.Rename(f.path, backup); err != nil {
		return fmt.Errorf("rotate audit file: %w", err)
	}
	f.prune()
	return f.open()
}

// prune drops backups beyond the count limit, oldest first, then anything
// past the age limit.
func (f *rotatingFile) prune() {
	backups, err := filepath.Glob(f.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(backups)

	if excess := len(backups) - f.limits.maxBackups; excess > 0 {
		for _, path := range backups[:excess] {
			_ = os.Remove(path)
		}
		backups = backups[excess:]
	}

	cutoff := time.Now().Add(-f.limits.maxAge).Format(backupStamp)
	for _, path := range backups {
		stamp := strings.TrimPrefix(path, f.path+".")
		if stamp < cutoff {
			_ = os.Remove(path)
		}
	}
}

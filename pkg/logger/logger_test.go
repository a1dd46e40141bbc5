package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFileRollsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	trail, err := newRotatingFile(path, rotationLimits{maxBytes: 64, maxBackups: 2})
	if err != nil {
		t.Fatalf("new rotating file: %v", err)
	}
	defer trail.Close()

	record := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 6; i++ {
		if _, err := trail.Write(record); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// Backup names are millisecond-granular timestamps; space the
		// rolls out just enough that each gets a distinct name.
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("live file missing: %v", err)
	}
	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) == 0 {
		t.Fatal("expected at least one rotated backup")
	}
	if len(backups) > 2 {
		t.Fatalf("backups not pruned to limit: %v", backups)
	}
}

func TestRotatingFileNeverSplitsARecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	trail, err := newRotatingFile(path, rotationLimits{maxBytes: 32, maxBackups: 3})
	if err != nil {
		t.Fatalf("new rotating file: %v", err)
	}
	defer trail.Close()

	// A record bigger than the limit still lands whole in one file.
	big := []byte(strings.Repeat("y", 48) + "\n")
	if _, err := trail.Write(big); err != nil {
		t.Fatalf("write oversized record: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if !bytes.Equal(content, big) {
		t.Fatalf("record was split or mangled: %q", content)
	}
}

func TestRotatingFileRequiresPath(t *testing.T) {
	if _, err := newRotatingFile("", rotationLimits{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNamedTagsComponent(t *testing.T) {
	log := Named("engine")
	if log == nil {
		t.Fatal("named logger must not be nil")
	}
	// The bootstrap default must also serve the audit side.
	if Audit() == nil {
		t.Fatal("audit logger must not be nil")
	}
}

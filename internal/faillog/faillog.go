// Package faillog records terminal sync failures durably. The failure log
// is the append-only file external tooling polls; it grows only on failure
// so every line is signal.
package faillog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pkbops/vaultsync/internal/models"
)

// Entry is one structured failure record.
type Entry struct {
	Time       time.Time
	Repository string
	Phase      models.Phase
	Message    string
}

// Line renders the entry as a single structured log line.
func (e Entry) Line() string {
	return fmt.Sprintf("%s repo=%s phase=%s msg=%s",
		e.Time.UTC().Format(time.RFC3339), e.Repository, e.Phase, strconv.Quote(e.Message))
}

// FailureLog is the durable failure sink injected into the sync engine.
type FailureLog interface {
	Append(e Entry) error
}

// FileLog appends failure entries to a single file. Each append opens,
// writes, syncs, and closes; failures are rare enough that durability
// beats keeping a handle open.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a FileLog writing to path.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Append writes one entry. The entry's Time defaults to now when zero.
func (l *FileLog) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(e.Line() + "\n"); err != nil {
		return fmt.Errorf("append failure log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync failure log: %w", err)
	}
	return nil
}

// MemLog collects entries in memory for tests.
type MemLog struct {
	mu      sync.Mutex
	Entries []Entry
}

// Append records the entry.
func (l *MemLog) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	l.Entries = append(l.Entries, e)
	return nil
}

// NewActivityLog returns a size-capped logger for per-cycle progress
// detail. Unlike the failure log it rotates, since it grows on every run.
func NewActivityLog(path string) *log.Logger {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 2,
	}
	return log.New(w, "", log.LstdFlags|log.LUTC)
}

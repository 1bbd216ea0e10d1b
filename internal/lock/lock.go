// Package lock provides per-repository mutual exclusion across processes.
//
// Acquisition uses an atomic filesystem primitive (hard-linking a fully
// written temp file into place), never a read-then-write check. A lock
// whose holder process is dead is stale and reclaimed by the next acquirer.
package lock

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Lock is a held repository lock.
type Lock struct {
	Path       string
	HolderPID  int
	AcquiredAt time.Time
}

// Manager acquires and releases repository locks in a lock directory.
// The liveness probe and PID source are injectable for tests.
type Manager struct {
	dir   string
	alive func(pid int) bool
	pid   func() int
}

// NewManager creates a Manager storing lock files under dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:   dir,
		alive: processAlive,
		pid:   os.Getpid,
	}
}

// lockPath derives a stable lock file path from the repository path.
func (m *Manager) lockPath(repoPath string) string {
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(repoPath)))[:16]
	return filepath.Join(m.dir, hash+".lock")
}

// Acquire attempts to take the lock for repoPath. It returns (lock, false)
// on success, or (nil, true) when a live holder exists. Busy is not an
// error: "someone else is already syncing" is an expected outcome.
func (m *Manager) Acquire(repoPath string) (*Lock, bool, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}

	path := m.lockPath(repoPath)

	l, err := m.tryCreate(path)
	if err == nil {
		return l, false, nil
	}
	if !os.IsExist(err) {
		return nil, false, err
	}

	// Lock file exists. Reclaim it only if the holder is dead.
	pid, _, readErr := readLockFile(path)
	if readErr == nil && m.alive(pid) {
		return nil, true, nil
	}

	return m.reclaim(path)
}

// reclaim takes over a lock file whose holder looked dead. The stale file
// is claimed by renaming it aside: of several reclaimers exactly one
// rename succeeds, and the claimed file is re-checked afterwards in case
// a faster reclaimer already replaced the stale lock with a live one
// between our staleness read and our rename. Removing the path outright
// here would delete that winner's lock.
func (m *Manager) reclaim(path string) (*Lock, bool, error) {
	claim := fmt.Sprintf("%s.claim-%d-%d", path, m.pid(), time.Now().UnixNano())
	if err := os.Rename(path, claim); err != nil {
		if os.IsNotExist(err) {
			// Another reclaimer renamed it first; contend for the
			// create and back off if their lock is already in place.
			l, err := m.tryCreate(path)
			if err == nil {
				return l, false, nil
			}
			if os.IsExist(err) {
				return nil, true, nil
			}
			return nil, false, err
		}
		return nil, false, fmt.Errorf("claim stale lock: %w", err)
	}

	if pid, _, err := readLockFile(claim); err == nil && m.alive(pid) {
		// We renamed a live lock, not the stale one. Put it back;
		// Link never clobbers a lock created in the meantime.
		if linkErr := os.Link(claim, path); linkErr != nil && !os.IsExist(linkErr) {
			_ = os.Remove(claim)
			return nil, false, fmt.Errorf("restore live lock: %w", linkErr)
		}
		_ = os.Remove(claim)
		return nil, true, nil
	}
	_ = os.Remove(claim)

	l, err := m.tryCreate(path)
	if err == nil {
		return l, false, nil
	}
	if os.IsExist(err) {
		return nil, true, nil
	}
	return nil, false, err
}

// tryCreate atomically creates the lock file with holder metadata. The
// content is written to a temp file first and hard-linked into place, so
// the lock file is never visible half-written to concurrent readers.
func (m *Manager) tryCreate(path string) (*Lock, error) {
	tmp, err := os.CreateTemp(m.dir, ".lock-*")
	if err != nil {
		return nil, fmt.Errorf("create lock temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	now := time.Now().UTC()
	pid := m.pid()
	_, werr := fmt.Fprintf(tmp, "%d\n%s\n", pid, now.Format(time.RFC3339))
	cerr := tmp.Close()
	if werr != nil {
		return nil, fmt.Errorf("write lock file: %w", werr)
	}
	if cerr != nil {
		return nil, fmt.Errorf("close lock file: %w", cerr)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		return nil, err
	}
	return &Lock{Path: path, HolderPID: pid, AcquiredAt: now}, nil
}

// Release removes the lock file. Safe to call once per held lock.
func (m *Manager) Release(l *Lock) error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// readLockFile parses "pid\nacquired_at\n" lock file content.
func readLockFile(path string) (pid int, acquiredAt time.Time, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid lock file content: %w", err)
	}
	if len(lines) == 2 {
		acquiredAt, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	}
	return pid, acquiredAt, nil
}

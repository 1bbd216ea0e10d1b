package models

import "time"

// Mode selects how much work a sync cycle does.
type Mode string

const (
	// ModeQuick commits and pushes only.
	ModeQuick Mode = "quick"
	// ModeFull additionally regenerates derived artifacts for the
	// primary repository after a successful sync.
	ModeFull Mode = "full"
)

// ParseMode validates a mode argument from the CLI.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeQuick, ModeFull:
		return Mode(s), true
	}
	return "", false
}

// Phase names a step of the sync protocol for logs and failure records.
type Phase string

const (
	// PhaseLock covers lock acquisition, before any git command runs.
	PhaseLock   Phase = "lock"
	PhaseScan   Phase = "scan"
	PhaseCommit Phase = "commit"
	PhasePull   Phase = "pull"
	PhasePush   Phase = "push"
)

// Outcome is the terminal result of one repository's sync cycle.
type Outcome string

const (
	// OutcomeClean means there was nothing to do.
	OutcomeClean Outcome = "clean"
	// OutcomeSynced means changes were committed and pushed.
	OutcomeSynced Outcome = "synced"
	// OutcomeBusy means another process held the repository lock.
	OutcomeBusy Outcome = "busy"
	// OutcomeFailed means the cycle reached a terminal failure.
	OutcomeFailed Outcome = "failed"
)

// SyncRecord is one repository's result within a sync cycle, as persisted
// to the history store.
type SyncRecord struct {
	ID         string
	CycleID    string
	Repository string
	Mode       Mode
	Outcome    Outcome
	Phase      Phase
	CommitHash string
	Message    string
	Error      string
	Duration   time.Duration
	StartedAt  time.Time
}

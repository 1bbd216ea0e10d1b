// Package orchestrate runs the sync protocol across the configured set of
// repositories. Repositories are processed in fixed registry order, one at
// a time; a failure in one never blocks the rest.
package orchestrate

import (
	"context"
	"log"
	"time"

	"github.com/pkbops/vaultsync/internal/engine"
	"github.com/pkbops/vaultsync/internal/faillog"
	"github.com/pkbops/vaultsync/internal/lock"
	"github.com/pkbops/vaultsync/internal/models"
	"github.com/pkbops/vaultsync/internal/store"
)

// RepoResult is one repository's outcome within a cycle.
type RepoResult struct {
	Repository string         `json:"repository"`
	Outcome    models.Outcome `json:"outcome"`
	Phase      models.Phase   `json:"phase,omitempty"`
	CommitHash string         `json:"commit,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// CycleResult aggregates a full cycle across all repositories.
type CycleResult struct {
	CycleID string       `json:"cycle_id"`
	Mode    models.Mode  `json:"mode"`
	Results []RepoResult `json:"results"`
	Synced  int          `json:"synced"`
	Clean   int          `json:"clean"`
	Busy    int          `json:"busy"`
	Failed  int          `json:"failed"`
}

// OK reports whether no repository terminally failed. Busy and clean
// repositories count as success.
func (c *CycleResult) OK() bool {
	return c.Failed == 0
}

// Orchestrator drives one sync cycle over the registry.
type Orchestrator struct {
	repos    []models.Repository
	engine   *engine.Engine
	locks    *lock.Manager
	failures faillog.FailureLog
	history  store.Store
	progress engine.ProgressFunc
	activity *log.Logger

	// regenerate produces derived artifacts for the primary repository
	// in full mode. Injectable for tests.
	regenerate func(vaultDir string) (string, error)
}

// Options collects the orchestrator's collaborators. History, activity,
// progress, and Regenerate are optional.
type Options struct {
	Repos      []models.Repository
	Engine     *engine.Engine
	Locks      *lock.Manager
	Failures   faillog.FailureLog
	History    store.Store
	Progress   engine.ProgressFunc
	Activity   *log.Logger
	Regenerate func(vaultDir string) (string, error)
}

// New builds an Orchestrator.
func New(opts Options) *Orchestrator {
	progress := opts.Progress
	if progress == nil {
		progress = func(string, string) {}
	}
	return &Orchestrator{
		repos:      opts.Repos,
		engine:     opts.Engine,
		locks:      opts.Locks,
		failures:   opts.Failures,
		history:    opts.History,
		progress:   progress,
		activity:   opts.Activity,
		regenerate: opts.Regenerate,
	}
}

// Run executes one cycle in the given mode and returns the aggregate
// result. It always attempts every repository before returning.
func (o *Orchestrator) Run(ctx context.Context, mode models.Mode) *CycleResult {
	cycle := &CycleResult{CycleID: store.NewULID(), Mode: mode}
	o.logf("cycle %s started (mode=%s, %d repositories)", cycle.CycleID, mode, len(o.repos))

	for _, repo := range o.repos {
		res := o.syncOne(ctx, repo, mode, cycle.CycleID)
		cycle.Results = append(cycle.Results, res)
		switch res.Outcome {
		case models.OutcomeSynced:
			cycle.Synced++
		case models.OutcomeClean:
			cycle.Clean++
		case models.OutcomeBusy:
			cycle.Busy++
		case models.OutcomeFailed:
			cycle.Failed++
		}
	}

	o.logf("cycle %s finished: %d synced, %d clean, %d busy, %d failed",
		cycle.CycleID, cycle.Synced, cycle.Clean, cycle.Busy, cycle.Failed)
	return cycle
}

// syncOne locks, syncs, and records a single repository.
func (o *Orchestrator) syncOne(ctx context.Context, repo models.Repository, mode models.Mode, cycleID string) RepoResult {
	started := time.Now()

	held, busy, err := o.locks.Acquire(repo.Path)
	if err != nil {
		// Lock infrastructure failure, not contention. Terminal for
		// this repository, and durably logged like any other failure.
		msg := "lock acquisition failed: " + err.Error()
		o.progress(repo.Name, msg)
		_ = o.failures.Append(faillog.Entry{Time: started, Repository: repo.Name, Phase: models.PhaseLock, Message: msg})
		res := RepoResult{Repository: repo.Name, Outcome: models.OutcomeFailed, Phase: models.PhaseLock, Error: msg}
		o.record(ctx, repo, mode, cycleID, started, res)
		return res
	}
	if busy {
		// Someone else is already syncing; a silent, successful no-op.
		o.progress(repo.Name, "another sync is in progress, skipping")
		res := RepoResult{Repository: repo.Name, Outcome: models.OutcomeBusy}
		o.record(ctx, repo, mode, cycleID, started, res)
		return res
	}
	defer func() {
		if err := o.locks.Release(held); err != nil {
			o.logf("%s: %v", repo.Name, err)
		}
	}()

	sr := o.engine.Sync(ctx, repo)
	res := RepoResult{
		Repository: repo.Name,
		Outcome:    sr.Outcome,
		Phase:      sr.Phase,
		CommitHash: sr.CommitHash,
		Message:    sr.Message,
		Error:      sr.Error,
	}

	// Derived artifact regeneration: full mode, primary repo, sync not
	// failed. Best-effort: its own failure is logged but never flips
	// the cycle to failed.
	if mode == models.ModeFull && repo.Primary && !sr.Failed() && o.regenerate != nil {
		if out, err := o.regenerate(repo.Path); err != nil {
			o.progress(repo.Name, "artifact regeneration failed: "+err.Error())
			o.logf("%s: artifact regeneration failed: %v", repo.Name, err)
		} else {
			o.progress(repo.Name, "regenerated "+out)
		}
	}

	o.record(ctx, repo, mode, cycleID, started, res)
	return res
}

// record persists the result to the history store, best-effort.
func (o *Orchestrator) record(ctx context.Context, repo models.Repository, mode models.Mode, cycleID string, started time.Time, res RepoResult) {
	if o.history == nil {
		return
	}
	rec := &models.SyncRecord{
		CycleID:    cycleID,
		Repository: repo.Name,
		Mode:       mode,
		Outcome:    res.Outcome,
		Phase:      res.Phase,
		CommitHash: res.CommitHash,
		Message:    res.Message,
		Error:      res.Error,
		Duration:   time.Since(started),
		StartedAt:  started.UTC(),
	}
	if err := o.history.RecordSync(ctx, rec); err != nil {
		o.logf("%s: history write failed: %v", repo.Name, err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.activity != nil {
		o.activity.Printf(format, args...)
	}
}

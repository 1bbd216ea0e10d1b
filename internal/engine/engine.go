// Package engine implements the sync protocol for a single repository:
// stage, commit, pull with rebase, push with bounded retry. Recoverable
// errors are handled here; only terminal failures propagate, and every
// one of them is written to the durable failure log first.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkbops/vaultsync/internal/classify"
	"github.com/pkbops/vaultsync/internal/faillog"
	"github.com/pkbops/vaultsync/internal/git"
	"github.com/pkbops/vaultsync/internal/models"
)

// maxPushAttempts bounds push retries: 1 initial + 2 after re-rebasing.
// Unbounded retry against a persistently diverging remote would spin
// forever; three absorbs normal multi-machine races.
const maxPushAttempts = 3

// stashLabel marks stashes created by conflict recovery so a human can
// identify them in `git stash list`.
const stashLabel = "vaultsync conflict recovery"

// Result is the terminal outcome of one repository's sync cycle.
type Result struct {
	Outcome    models.Outcome
	Phase      models.Phase
	CommitHash string
	Message    string
	Changes    int
	Error      string
}

// Failed reports whether the cycle reached the terminal failure state.
func (r *Result) Failed() bool {
	return r.Outcome == models.OutcomeFailed
}

// ProgressFunc receives one human-readable line per phase transition.
type ProgressFunc func(repo, msg string)

// Engine runs the sync protocol. Collaborators are injected so tests can
// substitute a scripted git client and an in-memory failure log.
type Engine struct {
	git        git.Client
	classifier *classify.Classifier
	failures   faillog.FailureLog
	progress   ProgressFunc
	now        func() time.Time
}

// New creates an Engine. progress may be nil.
func New(gc git.Client, cl *classify.Classifier, fl faillog.FailureLog, progress ProgressFunc) *Engine {
	if progress == nil {
		progress = func(string, string) {}
	}
	return &Engine{
		git:        gc,
		classifier: cl,
		failures:   fl,
		progress:   progress,
		now:        time.Now,
	}
}

// Sync runs one full cycle against repo. The caller must hold the
// repository lock. A clean repository is a successful no-op.
func (e *Engine) Sync(ctx context.Context, repo models.Repository) *Result {
	// Scanning.
	e.progress(repo.Name, "scanning")
	if err := e.git.IsRepo(ctx, repo.Path); err != nil {
		return e.fail(repo, models.PhaseScan, err.Error())
	}

	state, err := e.git.InProgressState(ctx, repo.Path)
	if err != nil {
		return e.fail(repo, models.PhaseScan, err.Error())
	}
	if state != "" {
		return e.fail(repo, models.PhaseScan,
			fmt.Sprintf("%s in progress; refusing to sync until it is resolved (run git %s --abort or finish it)", state, state))
	}

	changes, err := e.git.Status(ctx, repo.Path, repo.Scope)
	if err != nil {
		return e.fail(repo, models.PhaseScan, err.Error())
	}
	if changes.Empty() {
		e.progress(repo.Name, "clean, nothing to sync")
		return &Result{Outcome: models.OutcomeClean}
	}

	// Committing.
	plan := e.classifier.Plan(changes.Modified, changes.Untracked)
	message, err := classify.Compose(plan)
	if err != nil {
		return e.fail(repo, models.PhaseCommit, err.Error())
	}

	e.progress(repo.Name, fmt.Sprintf("committing %d file(s): %s", changes.Len(), message))
	if err := e.git.StageAll(ctx, repo.Path, repo.Scope); err != nil {
		return e.fail(repo, models.PhaseCommit, err.Error())
	}
	if err := e.git.Commit(ctx, repo.Path, message); err != nil {
		return e.fail(repo, models.PhaseCommit, err.Error())
	}

	// PullingRebase, then Pushing with bounded retry. A rejected push
	// means the remote moved under us; rebase once more and try again.
	if res := e.pullRebase(ctx, repo); res != nil {
		return res
	}

	for attempt := 1; ; attempt++ {
		e.progress(repo.Name, fmt.Sprintf("pushing (attempt %d/%d)", attempt, maxPushAttempts))
		err := e.git.Push(ctx, repo.Path, repo.Remote, repo.Branch)
		if err == nil {
			break
		}
		if !git.IsRejected(err) {
			return e.fail(repo, models.PhasePush, err.Error())
		}
		if attempt >= maxPushAttempts {
			return e.fail(repo, models.PhasePush,
				fmt.Sprintf("push rejected %d times; remote keeps diverging: %v", attempt, err))
		}
		if res := e.pullRebase(ctx, repo); res != nil {
			return res
		}
	}

	hash, err := e.git.HeadHash(ctx, repo.Path)
	if err != nil {
		hash = ""
	}
	e.progress(repo.Name, fmt.Sprintf("done (%s)", message))
	return &Result{
		Outcome:    models.OutcomeSynced,
		CommitHash: hash,
		Message:    message,
		Changes:    changes.Len(),
	}
}

// pullRebase rebases local commits onto the remote. On conflict it aborts
// the rebase, shelves any uncommitted residue (edits can land mid-sync),
// and retries once. Returns nil on success, or a terminal failure Result.
func (e *Engine) pullRebase(ctx context.Context, repo models.Repository) *Result {
	e.progress(repo.Name, "pulling (rebase)")
	err := e.git.PullRebase(ctx, repo.Path, repo.Remote, repo.Branch)
	if err == nil {
		return nil
	}

	e.progress(repo.Name, "rebase conflict, attempting stash recovery")
	_ = e.git.RebaseAbort(ctx, repo.Path)

	// Scope bounds what gets committed, not what blocks a rebase:
	// dirty files anywhere in the tree stop it, so scan the whole tree.
	residue, statusErr := e.git.Status(ctx, repo.Path, "")
	stashed := false
	if statusErr == nil && !residue.Empty() {
		if err := e.git.StashPush(ctx, repo.Path, stashLabel); err != nil {
			return e.fail(repo, models.PhasePull, fmt.Sprintf("stash failed during conflict recovery: %v", err))
		}
		stashed = true
	}

	if err := e.git.PullRebase(ctx, repo.Path, repo.Remote, repo.Branch); err != nil {
		// One stash-and-retry is the limit. Anything deeper is left
		// for a human or a future cycle.
		msg := fmt.Sprintf("rebase failed twice: %v", err)
		if stashed {
			msg += fmt.Sprintf("; your changes are preserved in the stash (%q) — inspect with git status and git stash list, resolve, then git stash pop", stashLabel)
		}
		return e.fail(repo, models.PhasePull, msg)
	}

	if stashed {
		if err := e.git.StashPop(ctx, repo.Path); err != nil {
			return e.fail(repo, models.PhasePull,
				fmt.Sprintf("stash pop conflicted: %v; your changes are preserved in the stash (%q) — inspect with git status, resolve conflicts, then re-apply with git stash pop", err, stashLabel))
		}
	}
	return nil
}

// fail writes the durable failure record and builds the terminal Result.
// The log write happens before returning so no failure can disappear.
func (e *Engine) fail(repo models.Repository, phase models.Phase, msg string) *Result {
	e.progress(repo.Name, fmt.Sprintf("failed during %s: %s", phase, msg))
	entry := faillog.Entry{
		Time:       e.now(),
		Repository: repo.Name,
		Phase:      phase,
		Message:    msg,
	}
	if err := e.failures.Append(entry); err != nil {
		// The log is the durable record; surface its failure in the
		// result so the orchestrator's exit code still reflects it.
		msg = fmt.Sprintf("%s (additionally: failure log write failed: %v)", msg, err)
	}
	return &Result{Outcome: models.OutcomeFailed, Phase: phase, Error: msg}
}

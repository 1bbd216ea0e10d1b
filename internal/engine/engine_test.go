package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkbops/vaultsync/internal/classify"
	"github.com/pkbops/vaultsync/internal/faillog"
	"github.com/pkbops/vaultsync/internal/git"
	"github.com/pkbops/vaultsync/internal/models"
)

// stubClient scripts git behavior per call. Error slices are consumed one
// entry per invocation; a nil/exhausted slice means success.
type stubClient struct {
	isRepoErr  error
	inProgress string

	statuses     []git.ChangeSet
	statusScopes []string

	stageErr  error
	commitErr error
	pullErrs  []error
	pushErrs  []error
	popErr    error

	pulls, pushes, commits, stashPushes, stashPops, aborts int
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *stubClient) IsRepo(ctx context.Context, path string) error { return s.isRepoErr }
func (s *stubClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return "main", nil
}
func (s *stubClient) Status(ctx context.Context, path, scope string) (git.ChangeSet, error) {
	s.statusScopes = append(s.statusScopes, scope)
	if len(s.statuses) == 0 {
		return git.ChangeSet{}, nil
	}
	cs := s.statuses[0]
	s.statuses = s.statuses[1:]
	return cs, nil
}
func (s *stubClient) InProgressState(ctx context.Context, path string) (string, error) {
	return s.inProgress, nil
}
func (s *stubClient) StageAll(ctx context.Context, path, scope string) error { return s.stageErr }
func (s *stubClient) Commit(ctx context.Context, path, message string) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++
	return nil
}
func (s *stubClient) HeadHash(ctx context.Context, path string) (string, error) {
	return "abc1234", nil
}
func (s *stubClient) LastCommitDate(ctx context.Context, path string) (time.Time, error) {
	return time.Now(), nil
}
func (s *stubClient) LastCommitMessage(ctx context.Context, path string) (string, error) {
	return "", nil
}
func (s *stubClient) PullRebase(ctx context.Context, path, remote, branch string) error {
	s.pulls++
	return popErr(&s.pullErrs)
}
func (s *stubClient) RebaseAbort(ctx context.Context, path string) error {
	s.aborts++
	return nil
}
func (s *stubClient) StashPush(ctx context.Context, path, label string) error {
	s.stashPushes++
	return nil
}
func (s *stubClient) StashPop(ctx context.Context, path string) error {
	if s.popErr != nil {
		return s.popErr
	}
	s.stashPops++
	return nil
}
func (s *stubClient) HasStash(ctx context.Context, path string) (bool, error) {
	return s.stashPushes > s.stashPops, nil
}
func (s *stubClient) Push(ctx context.Context, path, remote, branch string) error {
	s.pushes++
	return popErr(&s.pushErrs)
}

func testRepo() models.Repository {
	r := models.Repository{Name: "vault", Path: "/data/vault"}
	r.ApplyDefaults()
	return r
}

func dirty(paths ...string) git.ChangeSet {
	return git.ChangeSet{Modified: paths}
}

func newTestEngine(stub *stubClient) (*Engine, *faillog.MemLog) {
	fl := &faillog.MemLog{}
	return New(stub, classify.Default(), fl, nil), fl
}

func TestSync_CleanRepoIsNoop(t *testing.T) {
	stub := &stubClient{}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.Equal(t, models.OutcomeClean, res.Outcome)
	assert.False(t, res.Failed())
	assert.Equal(t, 0, stub.commits)
	assert.Equal(t, 0, stub.pushes)
	assert.Empty(t, fl.Entries)
}

// Running twice against a clean repo commits nothing either time.
func TestSync_Idempotent(t *testing.T) {
	stub := &stubClient{}
	e, _ := newTestEngine(stub)

	for i := 0; i < 2; i++ {
		res := e.Sync(context.Background(), testRepo())
		assert.Equal(t, models.OutcomeClean, res.Outcome)
	}
	assert.Equal(t, 0, stub.commits)
}

func TestSync_SingleFileCommit(t *testing.T) {
	stub := &stubClient{statuses: []git.ChangeSet{dirty("projects/thesis/outline.md")}}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Contains(t, res.Message, "project: thesis")
	assert.Equal(t, "abc1234", res.CommitHash)
	assert.Equal(t, 1, res.Changes)
	assert.Equal(t, 1, stub.commits)
	assert.Equal(t, 1, stub.pulls)
	assert.Equal(t, 1, stub.pushes)
	assert.Empty(t, fl.Entries)
}

func TestSync_MultiFileCommitMessage(t *testing.T) {
	stub := &stubClient{statuses: []git.ChangeSet{{
		Modified:  []string{"tasks/a.md", "tasks/b.md"},
		Untracked: []string{"knowledge/c.md"},
	}}}
	e, _ := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Equal(t, "sync: 3 files (knowledge, tasks)", res.Message)
}

func TestSync_NotARepository(t *testing.T) {
	stub := &stubClient{isRepoErr: git.ErrNotARepository}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, models.PhaseScan, res.Phase)
	require.Len(t, fl.Entries, 1)
	assert.Equal(t, "vault", fl.Entries[0].Repository)
}

func TestSync_RefusesConflictInProgress(t *testing.T) {
	stub := &stubClient{inProgress: "rebase"}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, models.PhaseScan, res.Phase)
	assert.Contains(t, res.Error, "rebase in progress")
	assert.Equal(t, 0, stub.commits)
	assert.Len(t, fl.Entries, 1)
}

func TestSync_CommitFailureIsTerminal(t *testing.T) {
	stub := &stubClient{
		statuses:  []git.ChangeSet{dirty("tasks/a.md")},
		commitErr: assert.AnError,
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, models.PhaseCommit, res.Phase)
	assert.Equal(t, 0, stub.pushes)
	assert.Len(t, fl.Entries, 1)
}

// Remote moved between our pull and push: rebase once more, push again.
func TestSync_RejectedPushRetriesAfterRebase(t *testing.T) {
	stub := &stubClient{
		statuses: []git.ChangeSet{dirty("tasks/a.md")},
		pushErrs: []error{&git.RejectedError{Stderr: "non-fast-forward"}},
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Equal(t, 2, stub.pushes)
	assert.Equal(t, 2, stub.pulls)
	assert.Empty(t, fl.Entries)
}

// A persistently diverging remote must not spin: exactly 3 push attempts.
func TestSync_PushRetryBound(t *testing.T) {
	rejected := &git.RejectedError{Stderr: "non-fast-forward"}
	stub := &stubClient{
		statuses: []git.ChangeSet{dirty("tasks/a.md")},
		pushErrs: []error{rejected, rejected, rejected, rejected, rejected},
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, models.PhasePush, res.Phase)
	assert.Equal(t, 3, stub.pushes, "push is attempted at most 3 times")
	assert.Len(t, fl.Entries, 1)
}

func TestSync_NonRejectionPushErrorIsTerminal(t *testing.T) {
	stub := &stubClient{
		statuses: []git.ChangeSet{dirty("tasks/a.md")},
		pushErrs: []error{assert.AnError},
	}
	e, _ := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, 1, stub.pushes, "network errors are not retried")
}

// First rebase conflicts, residue is stashed, second rebase succeeds,
// stash is restored.
func TestSync_RebaseConflictStashRecovery(t *testing.T) {
	stub := &stubClient{
		// Initial scan, then residue found after the aborted rebase.
		statuses: []git.ChangeSet{
			dirty("tasks/a.md"),
			dirty("tasks/mid-edit.md"),
		},
		pullErrs: []error{assert.AnError},
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Equal(t, 1, stub.aborts)
	assert.Equal(t, 1, stub.stashPushes)
	assert.Equal(t, 1, stub.stashPops)
	assert.Equal(t, 2, stub.pulls)
	assert.Empty(t, fl.Entries)
}

// No uncommitted residue after the abort: recovery retries the pull
// without touching the stash.
func TestSync_RebaseConflictNoResidueSkipsStash(t *testing.T) {
	stub := &stubClient{
		statuses: []git.ChangeSet{dirty("tasks/a.md")}, // residue scan sees clean
		pullErrs: []error{assert.AnError},
	}
	e, _ := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Equal(t, 0, stub.stashPushes)
	assert.Equal(t, 0, stub.stashPops)
}

// A scoped repository with uncommitted edits outside the scope: rebase
// blocks on dirty files anywhere in the tree, so conflict recovery scans
// and stashes the whole tree, not just the scope.
func TestSync_RecoveryStashesOutOfScopeResidue(t *testing.T) {
	repo := models.Repository{Name: "aux", Path: "/data/aux", Scope: "data/"}
	repo.ApplyDefaults()

	// Scoped scan finds the change to commit; the recovery scan finds
	// residue at the tree root.
	stub := &stubClient{
		statuses: []git.ChangeSet{
			dirty("data/tasks/a.md"),
			dirty("notes.md"),
		},
		pullErrs: []error{assert.AnError},
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), repo)
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.Equal(t, 1, stub.stashPushes, "out-of-scope residue must be shelved")
	assert.Equal(t, 1, stub.stashPops)
	assert.Empty(t, fl.Entries)

	require.Len(t, stub.statusScopes, 2)
	assert.Equal(t, "data/", stub.statusScopes[0])
	assert.Equal(t, "", stub.statusScopes[1], "recovery scan covers the whole tree")
}

// Both rebase attempts fail: stop, keep the stash, tell the human what
// to do next.
func TestSync_RebaseFailsTwice(t *testing.T) {
	stub := &stubClient{
		statuses: []git.ChangeSet{
			dirty("tasks/a.md"),
			dirty("tasks/mid-edit.md"),
		},
		pullErrs: []error{assert.AnError, assert.AnError},
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Equal(t, models.PhasePull, res.Phase)
	assert.Equal(t, 0, stub.stashPops, "stash must be left intact")
	assert.Contains(t, res.Error, "preserved in the stash")

	require.Len(t, fl.Entries, 1)
	assert.Equal(t, "vault", fl.Entries[0].Repository)
	assert.Equal(t, models.PhasePull, fl.Entries[0].Phase)
	assert.Contains(t, fl.Entries[0].Message, "stash")
}

// Stash pop conflicts: terminal, with explicit preserved-state messaging.
func TestSync_StashPopConflict(t *testing.T) {
	stub := &stubClient{
		statuses: []git.ChangeSet{
			dirty("tasks/a.md"),
			dirty("tasks/mid-edit.md"),
		},
		pullErrs: []error{assert.AnError},
		popErr:   assert.AnError,
	}
	e, fl := newTestEngine(stub)

	res := e.Sync(context.Background(), testRepo())
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "preserved in the stash")
	assert.Contains(t, res.Error, "git stash pop")
	require.Len(t, fl.Entries, 1)
	assert.Contains(t, fl.Entries[0].Message, "resolve conflicts")
}

func TestSync_ProgressLines(t *testing.T) {
	stub := &stubClient{statuses: []git.ChangeSet{dirty("tasks/a.md")}}
	var lines []string
	fl := &faillog.MemLog{}
	e := New(stub, classify.Default(), fl, func(repo, msg string) {
		lines = append(lines, repo+": "+msg)
	})

	res := e.Sync(context.Background(), testRepo())
	require.Equal(t, models.OutcomeSynced, res.Outcome)
	assert.GreaterOrEqual(t, len(lines), 4, "one line per phase transition")
	assert.Contains(t, lines[0], "scanning")
}

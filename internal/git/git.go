package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotARepository indicates the given path is not a git working copy.
var ErrNotARepository = errors.New("not a git repository")

// RejectedError indicates the remote refused a push because it has
// commits the local branch does not (non-fast-forward).
type RejectedError struct {
	Stderr string
}

func (e *RejectedError) Error() string {
	return "push rejected: " + e.Stderr
}

// IsRejected reports whether err represents a non-fast-forward push rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// ChangeSet is the normalized result of scanning a working tree: tracked
// paths with staged or unstaged differences, and paths git does not know
// about yet.
type ChangeSet struct {
	Modified  []string
	Untracked []string
}

// Empty reports whether the working tree and index are clean.
func (c ChangeSet) Empty() bool {
	return len(c.Modified) == 0 && len(c.Untracked) == 0
}

// Len returns the total number of changed paths.
func (c ChangeSet) Len() int {
	return len(c.Modified) + len(c.Untracked)
}

// Paths returns all changed paths in a single sorted slice.
func (c ChangeSet) Paths() []string {
	paths := make([]string, 0, c.Len())
	paths = append(paths, c.Modified...)
	paths = append(paths, c.Untracked...)
	sort.Strings(paths)
	return paths
}

// Timeouts bounds how long git subprocesses may run. Network operations
// get a longer leash than local ones; a hung subprocess must never hold
// the repository lock indefinitely.
type Timeouts struct {
	Local   time.Duration
	Network time.Duration
}

// DefaultTimeouts returns the standard operation bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{Local: 30 * time.Second, Network: 120 * time.Second}
}

// Client defines the git operations the sync engine needs. All methods
// take a path parameter since the engine operates on multiple repos.
type Client interface {
	IsRepo(ctx context.Context, path string) error
	CurrentBranch(ctx context.Context, path string) (string, error)
	Status(ctx context.Context, path, scope string) (ChangeSet, error)
	InProgressState(ctx context.Context, path string) (string, error)
	StageAll(ctx context.Context, path, scope string) error
	Commit(ctx context.Context, path, message string) error
	HeadHash(ctx context.Context, path string) (string, error)
	LastCommitDate(ctx context.Context, path string) (time.Time, error)
	LastCommitMessage(ctx context.Context, path string) (string, error)
	PullRebase(ctx context.Context, path, remote, branch string) error
	RebaseAbort(ctx context.Context, path string) error
	StashPush(ctx context.Context, path, label string) error
	StashPop(ctx context.Context, path string) error
	HasStash(ctx context.Context, path string) (bool, error)
	Push(ctx context.Context, path, remote, branch string) error
}

// RealClient implements Client by shelling out to the git binary.
type RealClient struct {
	timeouts Timeouts
}

// NewClient returns a RealClient with default timeouts.
func NewClient() *RealClient {
	return &RealClient{timeouts: DefaultTimeouts()}
}

// NewClientWithTimeouts returns a RealClient with custom operation bounds.
func NewClientWithTimeouts(t Timeouts) *RealClient {
	return &RealClient{timeouts: t}
}

func (c *RealClient) run(ctx context.Context, timeout time.Duration, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timed out after %s", strings.Join(args, " "), timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo verifies path is inside a git working copy.
func (c *RealClient) IsRepo(ctx context.Context, path string) error {
	if _, err := c.run(ctx, c.timeouts.Local, path, "rev-parse", "--git-dir"); err != nil {
		return fmt.Errorf("%w: %s", ErrNotARepository, path)
	}
	return nil
}

func (c *RealClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return c.run(ctx, c.timeouts.Local, path, "rev-parse", "--abbrev-ref", "HEAD")
}

// Status scans the working tree and index. scope restricts the scan to a
// subtree when non-empty. Read-only: never mutates the tree.
func (c *RealClient) Status(ctx context.Context, path, scope string) (ChangeSet, error) {
	args := []string{"status", "--porcelain"}
	if scope != "" {
		args = append(args, "--", scope)
	}
	out, err := c.run(ctx, c.timeouts.Local, path, args...)
	if err != nil {
		return ChangeSet{}, err
	}
	return ParseStatusPorcelain(out), nil
}

// InProgressState reports any unfinished merge/rebase/cherry-pick in the
// repository, or "" if none. The engine refuses to sync over one rather
// than compounding the conflict.
func (c *RealClient) InProgressState(ctx context.Context, path string) (string, error) {
	gitDir, err := c.run(ctx, c.timeouts.Local, path, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	markers := []struct{ file, state string }{
		{"rebase-merge", "rebase"},
		{"rebase-apply", "rebase"},
		{"MERGE_HEAD", "merge"},
		{"CHERRY_PICK_HEAD", "cherry-pick"},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(gitDir, m.file)); err == nil {
			return m.state, nil
		}
	}
	return "", nil
}

// StageAll stages every change under scope (the whole tree when empty).
func (c *RealClient) StageAll(ctx context.Context, path, scope string) error {
	args := []string{"add", "--all"}
	if scope != "" {
		args = append(args, "--", scope)
	}
	_, err := c.run(ctx, c.timeouts.Local, path, args...)
	return err
}

func (c *RealClient) Commit(ctx context.Context, path, message string) error {
	_, err := c.run(ctx, c.timeouts.Local, path, "commit", "-m", message)
	return err
}

func (c *RealClient) HeadHash(ctx context.Context, path string) (string, error) {
	return c.run(ctx, c.timeouts.Local, path, "rev-parse", "--short", "HEAD")
}

func (c *RealClient) LastCommitDate(ctx context.Context, path string) (time.Time, error) {
	out, err := c.run(ctx, c.timeouts.Local, path, "log", "-1", "--format=%aI")
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, out)
}

func (c *RealClient) LastCommitMessage(ctx context.Context, path string) (string, error) {
	return c.run(ctx, c.timeouts.Local, path, "log", "-1", "--format=%s")
}

func (c *RealClient) PullRebase(ctx context.Context, path, remote, branch string) error {
	_, err := c.run(ctx, c.timeouts.Network, path, "pull", "--rebase", remote, branch)
	return err
}

func (c *RealClient) RebaseAbort(ctx context.Context, path string) error {
	_, err := c.run(ctx, c.timeouts.Local, path, "rebase", "--abort")
	return err
}

func (c *RealClient) StashPush(ctx context.Context, path, label string) error {
	_, err := c.run(ctx, c.timeouts.Local, path, "stash", "push", "--include-untracked", "-m", label)
	return err
}

func (c *RealClient) StashPop(ctx context.Context, path string) error {
	_, err := c.run(ctx, c.timeouts.Local, path, "stash", "pop")
	return err
}

func (c *RealClient) HasStash(ctx context.Context, path string) (bool, error) {
	out, err := c.run(ctx, c.timeouts.Local, path, "stash", "list")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Push pushes branch to remote. A non-fast-forward rejection is returned
// as *RejectedError so the engine can rebase and retry.
func (c *RealClient) Push(ctx context.Context, path, remote, branch string) error {
	_, err := c.run(ctx, c.timeouts.Network, path, "push", remote, branch)
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "[rejected]") || strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first") {
		return &RejectedError{Stderr: msg}
	}
	return err
}

// ParseStatusPorcelain parses `git status --porcelain` output into a
// ChangeSet. Rename entries report the new path.
func ParseStatusPorcelain(output string) ChangeSet {
	var cs ChangeSet
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		name := line[3:]
		// Renames are "R  old -> new"; the new path is what changed.
		if i := strings.Index(name, " -> "); i >= 0 {
			name = name[i+4:]
		}
		name = strings.Trim(name, `"`)
		if code == "??" {
			cs.Untracked = append(cs.Untracked, name)
		} else {
			cs.Modified = append(cs.Modified, name)
		}
	}
	sort.Strings(cs.Modified)
	sort.Strings(cs.Untracked)
	return cs
}

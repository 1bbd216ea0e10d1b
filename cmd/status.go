package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkbops/vaultsync/internal/git"
	"github.com/pkbops/vaultsync/internal/models"
	"github.com/pkbops/vaultsync/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository status dashboard",
	Long: `Show a summary table of all registered repositories: current branch,
pending changes, last commit, and the outcome of the most recent sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(ctx context.Context) error {
	repos, err := loadRepos()
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories registered.")
		return nil
	}

	gc := git.NewClient()

	// The db is optional here: a missing store just blanks the sync columns.
	hist, err := getHistory()
	if err != nil {
		ui.VerboseLog("history store unavailable: %v", err)
	}

	table := ui.Table([]string{"Repository", "Branch", "Status", "Last Commit", "Last Sync"})

	for _, r := range repos {
		name := r.Name
		if r.Primary {
			name += " *"
		}

		branch := "?"
		if b, err := gc.CurrentBranch(ctx, r.Path); err == nil {
			branch = b
		}

		gitStatus := output.Red("missing")
		if err := gc.IsRepo(ctx, r.Path); err == nil {
			gitStatus = getGitStatus(ctx, gc, r)
		}

		lastCommit := "n/a"
		if date, err := gc.LastCommitDate(ctx, r.Path); err == nil && !date.IsZero() {
			lastCommit = timeAgo(date)
		}

		lastSync := ""
		if hist != nil {
			if rec, err := hist.LastOutcome(ctx, r.Name); err == nil && rec != nil {
				lastSync = fmt.Sprintf("%s %s", output.OutcomeColor(rec.Outcome), timeAgo(rec.StartedAt))
			}
		}

		table.Append([]string{
			output.Cyan(name),
			branch,
			gitStatus,
			lastCommit,
			lastSync,
		})
	}

	table.Render()
	return nil
}

func getGitStatus(ctx context.Context, gc git.Client, r models.Repository) string {
	if state, err := gc.InProgressState(ctx, r.Path); err == nil && state != "" {
		return output.Red(state)
	}
	cs, err := gc.Status(ctx, r.Path, r.Scope)
	if err != nil {
		return "?"
	}
	if cs.Empty() {
		return output.Green("clean")
	}
	return output.Yellow(fmt.Sprintf("%d pending", cs.Len()))
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

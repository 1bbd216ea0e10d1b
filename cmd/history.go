package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkbops/vaultsync/internal/output"
	"github.com/pkbops/vaultsync/internal/store"
)

var (
	historyLimit      int
	historyFailedOnly bool
	historyRepo       string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync cycles",
	Long: `Show recent sync cycles from the history store, newest first.

Use --failed to see only terminal failures, --repo to focus on one
repository.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context())
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum records to show")
	historyCmd.Flags().BoolVar(&historyFailedOnly, "failed", false, "Show only failed cycles")
	historyCmd.Flags().StringVar(&historyRepo, "repo", "", "Filter by repository name")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(ctx context.Context) error {
	hist, err := getHistory()
	if err != nil {
		return err
	}

	recs, err := hist.ListHistory(ctx, store.HistoryFilter{
		Repository: historyRepo,
		FailedOnly: historyFailedOnly,
		Limit:      historyLimit,
	})
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	if len(recs) == 0 {
		ui.Info("No sync history recorded.")
		return nil
	}

	table := ui.Table([]string{"When", "Repository", "Mode", "Outcome", "Commit", "Detail"})
	for _, rec := range recs {
		detail := rec.Message
		if rec.Error != "" {
			detail = fmt.Sprintf("%s: %s", rec.Phase, rec.Error)
		}
		table.Append([]string{
			rec.StartedAt.Format(time.DateTime),
			output.Cyan(rec.Repository),
			string(rec.Mode),
			output.OutcomeColor(rec.Outcome),
			rec.CommitHash,
			detail,
		})
	}
	table.Render()
	return nil
}

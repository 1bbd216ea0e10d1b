package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pkbops/vaultsync/internal/classify"
	"github.com/pkbops/vaultsync/internal/engine"
	"github.com/pkbops/vaultsync/internal/faillog"
	"github.com/pkbops/vaultsync/internal/git"
	"github.com/pkbops/vaultsync/internal/graph"
	"github.com/pkbops/vaultsync/internal/lock"
	"github.com/pkbops/vaultsync/internal/models"
	"github.com/pkbops/vaultsync/internal/orchestrate"
)

var syncCmd = &cobra.Command{
	Use:   "sync [quick|full]",
	Short: "Run a sync cycle over all registered repositories",
	Long: `Run a sync cycle: commit pending changes, pull with rebase, and push,
for each registered repository in turn.

In full mode (the default) the derived task graph of the primary vault is
regenerated after a successful sync. Quick mode skips regeneration and is
meant for frequent cron invocations.

A repository locked by another vaultsync run is skipped without error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := models.ModeFull
		if len(args) == 1 {
			m, ok := models.ParseMode(args[0])
			if !ok {
				return fmt.Errorf("invalid mode %q: want quick or full", args[0])
			}
			mode = m
		}
		return syncRun(cmd.Context(), mode)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func syncRun(ctx context.Context, mode models.Mode) error {
	// Interrupts cancel in-flight git commands; deferred lock releases
	// still run.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := loadRepos()
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories registered. Add them to %s.", viper.GetString("registry_path"))
		return nil
	}

	failures := faillog.NewFileLog(viper.GetString("failure_log"))
	eng := engine.New(git.NewClient(), classify.Default(), failures, ui.Progress)

	// History is best-effort: sync proceeds even if the db is unavailable.
	hist, err := getHistory()
	if err != nil {
		ui.Warning("history store unavailable: %v", err)
		hist = nil
	}

	orch := orchestrate.New(orchestrate.Options{
		Repos:      repos,
		Engine:     eng,
		Locks:      lock.NewManager(lockDir()),
		Failures:   failures,
		History:    hist,
		Progress:   ui.Progress,
		Activity:   faillog.NewActivityLog(viper.GetString("activity_log")),
		Regenerate: graph.Regenerate,
	})

	cycle := orch.Run(ctx, mode)

	ui.VerboseLog("cycle %s: %d synced, %d clean, %d busy, %d failed",
		cycle.CycleID, cycle.Synced, cycle.Clean, cycle.Busy, cycle.Failed)

	if !cycle.OK() {
		return fmt.Errorf("%d of %d repositories failed to sync", cycle.Failed, len(cycle.Results))
	}
	return nil
}

package cmd

import (
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
	"github.com/pkbops/vaultsync/internal/mcp"
	"github.com/pkbops/vaultsync/internal/orchestrate"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent tooling query sync state and trigger cycles natively.
Configure with:

  {
    "mcpServers": {
      "vaultsync": { "command": "vaultsync", "args": ["mcp"] }
    }
  }

Available tools: vaultsync_list_repos, vaultsync_status,
vaultsync_sync_now, vaultsync_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repos, err := loadRepos()
		if err != nil {
			return err
		}

		gc := git.NewClient()
		failures := faillog.NewFileLog(viper.GetString("failure_log"))
		eng := engine.New(gc, classify.Default(), failures, nil)

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
			Activity:   faillog.NewActivityLog(viper.GetString("activity_log")),
			Regenerate: graph.Regenerate,
		})

		srv := mcp.NewServer(repos, gc, hist, orch)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

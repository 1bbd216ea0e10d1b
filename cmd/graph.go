package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/pkbops/vaultsync/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Regenerate the derived task dependency graph",
	Long: `Scan the primary vault's tasks/ tree and regenerate the task
dependency graph snapshot under derived/. This is the same artifact a
full-mode sync produces; the command exists for on-demand refreshes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return graphRun()
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}

func graphRun() error {
	repos, err := loadRepos()
	if err != nil {
		return err
	}

	var vaultDir string
	for _, r := range repos {
		if r.Primary {
			vaultDir = r.Path
			break
		}
	}
	if vaultDir == "" {
		return errors.New("no primary repository registered")
	}

	path, err := graph.Regenerate(vaultDir)
	if err != nil {
		return err
	}
	ui.Success("Task graph: %s", path)
	return nil
}

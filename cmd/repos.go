package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pkbops/vaultsync/internal/output"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List the repository registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reposRun()
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
}

func reposRun() error {
	repos, err := loadRepos()
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories registered.")
		return nil
	}

	table := ui.Table([]string{"Name", "Path", "Remote", "Branch", "Scope", "Primary"})
	for _, r := range repos {
		primary := ""
		if r.Primary {
			primary = output.Green("yes")
		}
		table.Append([]string{
			output.Cyan(r.Name),
			r.Path,
			r.Remote,
			r.Branch,
			r.Scope,
			primary,
		})
	}
	table.Render()
	return nil
}

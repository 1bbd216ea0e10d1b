package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pkbops/vaultsync/internal/models"
	"github.com/pkbops/vaultsync/internal/output"
	"github.com/pkbops/vaultsync/internal/registry"
	"github.com/pkbops/vaultsync/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui      *output.UI
	history store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vaultsync",
	Short: "Keep personal knowledge repositories synced through git",
	Long: `vaultsync commits, pulls, and pushes a set of registered git
repositories (a knowledge vault, session transcripts) so that cron jobs,
hooks, and agents can all write to them without manual git housekeeping.

Commit messages are composed from the paths that changed; concurrent runs
against the same repository coordinate through lock files and back off.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/vaultsync/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "vaultsync")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VAULTSYNC")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultStateDir := filepath.Join(home, ".config", "vaultsync")

	viper.SetDefault("state_dir", defaultStateDir)
	viper.SetDefault("db_path", filepath.Join(defaultStateDir, "vaultsync.db"))
	viper.SetDefault("registry_path", filepath.Join(defaultStateDir, "repos.yaml"))
	viper.SetDefault("vault_dir", filepath.Join(home, "vault"))
	viper.SetDefault("sessions_dir", filepath.Join(home, ".sessions"))
	viper.SetDefault("failure_log", filepath.Join(defaultStateDir, "failures.log"))
	viper.SetDefault("activity_log", filepath.Join(defaultStateDir, "activity.log"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The history store is opened lazily so config/version/repos commands
	// run without touching the database.
}

// getHistory returns the shared history store, initializing it on first call.
func getHistory() (store.Store, error) {
	if history != nil {
		return history, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	history = s
	return history, nil
}

// loadRepos resolves the repository set: the registry file when present,
// otherwise the configured vault and sessions roots.
func loadRepos() ([]models.Repository, error) {
	regPath := viper.GetString("registry_path")
	if _, err := os.Stat(regPath); err == nil {
		repos, err := registry.Load(regPath)
		if err != nil {
			return nil, fmt.Errorf("load registry %s: %w", regPath, err)
		}
		return repos, nil
	}
	return registry.FromRoots(viper.GetString("vault_dir"), viper.GetString("sessions_dir")), nil
}

func lockDir() string {
	return filepath.Join(viper.GetString("state_dir"), "locks")
}

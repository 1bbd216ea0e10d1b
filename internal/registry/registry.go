// Package registry loads the set of repositories to sync. The registry
// file is owned by the external setup process; this engine only reads it.
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pkbops/vaultsync/internal/models"
)

// File is the on-disk registry format (repos.yaml).
type File struct {
	Repositories []models.Repository `yaml:"repositories"`
}

// Load reads the registry file and returns repositories in declaration
// order. Order is preserved: the orchestrator processes repositories in a
// fixed, deterministic sequence.
func Load(path string) ([]models.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i := range f.Repositories {
		r := &f.Repositories[i]
		if r.Path == "" {
			return nil, fmt.Errorf("registry %s: repository %d has no path", path, i)
		}
		if r.Name == "" {
			r.Name = filepath.Base(r.Path)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("registry %s: duplicate repository name %q", path, r.Name)
		}
		seen[r.Name] = true
		r.ApplyDefaults()
	}
	return f.Repositories, nil
}

// FromRoots builds a registry from the environment-provided vault and
// sessions roots, used when no registry file exists. The vault is the
// primary repository.
func FromRoots(vaultDir, sessionsDir string) []models.Repository {
	var repos []models.Repository
	if vaultDir != "" {
		r := models.Repository{Name: "vault", Path: vaultDir, Primary: true}
		r.ApplyDefaults()
		repos = append(repos, r)
	}
	if sessionsDir != "" {
		r := models.Repository{Name: "sessions", Path: sessionsDir}
		r.ApplyDefaults()
		repos = append(repos, r)
	}
	return repos
}

package models

// Repository is a registered working copy the sync engine operates on.
// Entries come from the registry file (or the configured vault/sessions
// roots) and are never created or deleted by the engine itself.
type Repository struct {
	// Name identifies the repository in logs and the history store.
	Name string `yaml:"name"`
	// Path is the absolute location of the working copy.
	Path string `yaml:"path"`
	// Remote is the remote to sync against. Defaults to "origin".
	Remote string `yaml:"remote,omitempty"`
	// Branch is the branch to rebase and push. Defaults to "main".
	Branch string `yaml:"branch,omitempty"`
	// Scope optionally restricts scanning and staging to a subtree
	// (e.g. "data/"). Empty means the whole tree.
	Scope string `yaml:"scope,omitempty"`
	// Primary marks the repository whose derived artifacts are
	// regenerated after a successful full-mode sync.
	Primary bool `yaml:"primary,omitempty"`
}

// ApplyDefaults fills in Remote and Branch when the registry omits them.
func (r *Repository) ApplyDefaults() {
	if r.Remote == "" {
		r.Remote = "origin"
	}
	if r.Branch == "" {
		r.Branch = "main"
	}
}

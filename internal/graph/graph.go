// Package graph regenerates the derived task dependency snapshot from the
// vault's tasks tree. Regeneration is a best-effort, read-only-input step:
// it never blocks a sync cycle, and its output is written under derived/
// so the source task files stay authoritative.
package graph

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header of a task file.
type frontmatter struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Status  string   `yaml:"status"`
	Depends []string `yaml:"depends"`
}

// Node is one task in the snapshot.
type Node struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
	Path   string `json:"path"`
}

// Edge is a dependency between two tasks.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snapshot is the serialized dependency graph.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
}

// Regenerate scans vaultDir/tasks for task files and writes the graph to
// vaultDir/derived/task_graph.json. Returns the output path.
func Regenerate(vaultDir string) (string, error) {
	snap, err := Build(filepath.Join(vaultDir, "tasks"))
	if err != nil {
		return "", err
	}

	outDir := filepath.Join(vaultDir, "derived")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create derived directory: %w", err)
	}
	outPath := filepath.Join(outDir, "task_graph.json")

	// Rewriting an unchanged graph would dirty the repository every
	// cycle (the timestamp always moves), so compare content first.
	if existing, err := os.ReadFile(outPath); err == nil {
		var prev Snapshot
		if json.Unmarshal(existing, &prev) == nil && equalGraphs(&prev, snap) {
			return outPath, nil
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return outPath, nil
}

// equalGraphs compares nodes and edges, ignoring the generation time.
func equalGraphs(a, b *Snapshot) bool {
	if len(a.Nodes) != len(b.Nodes) || len(a.Edges) != len(b.Edges) {
		return false
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			return false
		}
	}
	for i := range a.Edges {
		if a.Edges[i] != b.Edges[i] {
			return false
		}
	}
	return true
}

// Build walks tasksDir and assembles the snapshot. Node and edge order is
// stable so regenerating an unchanged tree produces identical output
// (modulo the timestamp).
func Build(tasksDir string) (*Snapshot, error) {
	snap := &Snapshot{GeneratedAt: time.Now().UTC()}

	err := filepath.WalkDir(tasksDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		fm := parseFrontmatter(data)
		if fm.ID == "" {
			fm.ID = strings.TrimSuffix(filepath.Base(path), ".md")
		}

		rel, err := filepath.Rel(tasksDir, path)
		if err != nil {
			rel = path
		}
		snap.Nodes = append(snap.Nodes, Node{
			ID:     fm.ID,
			Title:  fm.Title,
			Status: fm.Status,
			Path:   filepath.ToSlash(rel),
		})
		for _, dep := range fm.Depends {
			if dep != "" {
				snap.Edges = append(snap.Edges, Edge{From: fm.ID, To: dep})
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			// No tasks tree means an empty graph, not a failure.
			return snap, nil
		}
		return nil, fmt.Errorf("walk tasks: %w", err)
	}

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].From != snap.Edges[j].From {
			return snap.Edges[i].From < snap.Edges[j].From
		}
		return snap.Edges[i].To < snap.Edges[j].To
	})
	return snap, nil
}

// parseFrontmatter extracts the YAML header delimited by "---" lines.
// Files without one (or with a malformed one) yield an empty frontmatter;
// a single unreadable task must not sink the whole snapshot.
func parseFrontmatter(data []byte) frontmatter {
	var fm frontmatter
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return fm
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm
	}
	_ = yaml.Unmarshal([]byte(rest[:end]), &fm)
	return fm
}

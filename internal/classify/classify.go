// Package classify maps changed paths to semantic categories and composes
// commit messages from them, so sync commits read like a human wrote them.
package classify

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrEmptyCommitPlan indicates Compose was called with no changes. The
// engine never commits an empty ChangeSet, so hitting this means a caller
// bug, not a runtime condition.
var ErrEmptyCommitPlan = errors.New("empty commit plan")

// Rule maps a path prefix to a category. A Category containing "%s" is
// filled with the path segment immediately following the prefix.
type Rule struct {
	Prefix   string
	Category string
}

// DefaultRules is the standard rule table for a knowledge vault layout.
// Order is a correctness invariant: more specific prefixes must come
// before the general ones they extend.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "knowledge/tech/", Category: "knowledge/tech"},
		{Prefix: "knowledge/", Category: "knowledge"},
		{Prefix: "projects/", Category: "project: %s"},
		{Prefix: "tasks/", Category: "tasks"},
		{Prefix: "sessions/", Category: "sessions"},
		{Prefix: "context/", Category: "context"},
		{Prefix: "logs/", Category: "logs"},
		{Prefix: ".", Category: "config"},
	}
}

// Classifier classifies paths against an ordered rule table.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a Classifier from rules, evaluated in order.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a Classifier with the standard vault rule table.
func Default() *Classifier {
	return NewClassifier(DefaultRules())
}

// Classify maps a path to a category. Total and deterministic: every path
// gets some category; paths matching no rule fall back to their first
// path segment ("root" for top-level files).
func (c *Classifier) Classify(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))

	for _, r := range c.rules {
		if !strings.HasPrefix(p, r.Prefix) {
			continue
		}
		if !strings.Contains(r.Category, "%s") {
			return r.Category
		}
		rest := strings.TrimPrefix(p, r.Prefix)
		seg, _, found := strings.Cut(rest, "/")
		if !found || seg == "" {
			// A file directly under the prefix has no sub-segment;
			// use the prefix directory itself.
			return strings.TrimSuffix(r.Prefix, "/")
		}
		return fmt.Sprintf(r.Category, seg)
	}

	if seg, _, found := strings.Cut(p, "/"); found && seg != "" {
		return seg
	}
	return "root"
}

// Change is one changed path with its category, ready for composition.
type Change struct {
	Path     string
	Category string
	// New marks paths git was not tracking before this cycle.
	New bool
}

// Plan classifies a set of paths into Changes. newPaths marks which of
// them are untracked.
func (c *Classifier) Plan(modified, untracked []string) []Change {
	changes := make([]Change, 0, len(modified)+len(untracked))
	for _, p := range modified {
		changes = append(changes, Change{Path: p, Category: c.Classify(p)})
	}
	for _, p := range untracked {
		changes = append(changes, Change{Path: p, Category: c.Classify(p), New: true})
	}
	return changes
}

// Compose turns a list of changes into a single commit message. One file
// gets a specific message; several get a grouped summary.
func Compose(changes []Change) (string, error) {
	if len(changes) == 0 {
		return "", ErrEmptyCommitPlan
	}

	if len(changes) == 1 {
		ch := changes[0]
		verb := "update"
		if ch.New {
			verb = "add"
		}
		return fmt.Sprintf("%s: %s %s", ch.Category, verb, fileStem(ch.Path)), nil
	}

	seen := make(map[string]bool)
	var categories []string
	for _, ch := range changes {
		if !seen[ch.Category] {
			seen[ch.Category] = true
			categories = append(categories, ch.Category)
		}
	}
	sort.Strings(categories)

	return fmt.Sprintf("sync: %d files (%s)", len(changes), strings.Join(categories, ", ")), nil
}

// fileStem returns the filename without directory or extension.
func fileStem(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

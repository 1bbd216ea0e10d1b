package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := Default()

	tests := []struct {
		path string
		want string
	}{
		{"knowledge/tech/go-concurrency.md", "knowledge/tech"},
		{"knowledge/biology/cells.md", "knowledge"},
		{"projects/thesis/outline.md", "project: thesis"},
		{"projects/README.md", "projects"},
		{"tasks/active/t-042.md", "tasks"},
		{"sessions/2026-08-29.md", "sessions"},
		{"context/priorities.md", "context"},
		{"logs/sync.log", "logs"},
		{".gitignore", "config"},
		{"inbox/capture.md", "inbox"},
		{"TODO.md", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := Default()
	for i := 0; i < 3; i++ {
		assert.Equal(t, "knowledge/tech", c.Classify("knowledge/tech/zig.md"))
	}
}

// Overlapping prefixes: the longer rule must win for paths it matches,
// regardless of how many general rules also match.
func TestClassify_SpecificRuleWins(t *testing.T) {
	c := Default()

	assert.Equal(t, "knowledge/tech", c.Classify("knowledge/tech/x.md"))
	assert.Equal(t, "knowledge", c.Classify("knowledge/x.md"))

	// Reversing the order would misclassify the specific path.
	reversed := NewClassifier([]Rule{
		{Prefix: "knowledge/", Category: "knowledge"},
		{Prefix: "knowledge/tech/", Category: "knowledge/tech"},
	})
	assert.Equal(t, "knowledge", reversed.Classify("knowledge/tech/x.md"),
		"sanity: order changes results, which is why DefaultRules is most-specific-first")
}

func TestClassify_WindowsSeparators(t *testing.T) {
	c := Default()
	assert.Equal(t, "project: thesis", c.Classify(`projects\thesis\outline.md`))
}

func TestCompose_SingleFile(t *testing.T) {
	msg, err := Compose([]Change{{Path: "projects/thesis/outline.md", Category: "project: thesis"}})
	require.NoError(t, err)
	assert.Equal(t, "project: thesis: update outline", msg)
}

func TestCompose_SingleNewFile(t *testing.T) {
	msg, err := Compose([]Change{{Path: "tasks/t-099.md", Category: "tasks", New: true}})
	require.NoError(t, err)
	assert.Equal(t, "tasks: add t-099", msg)
}

func TestCompose_MultipleFiles(t *testing.T) {
	msg, err := Compose([]Change{
		{Path: "tasks/a.md", Category: "tasks"},
		{Path: "tasks/b.md", Category: "tasks"},
		{Path: "knowledge/c.md", Category: "knowledge"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sync: 3 files (knowledge, tasks)", msg)
}

func TestCompose_Empty(t *testing.T) {
	_, err := Compose(nil)
	assert.ErrorIs(t, err, ErrEmptyCommitPlan)
}

func TestPlan(t *testing.T) {
	c := Default()
	changes := c.Plan([]string{"tasks/a.md"}, []string{"knowledge/b.md"})
	require.Len(t, changes, 2)
	assert.Equal(t, Change{Path: "tasks/a.md", Category: "tasks"}, changes[0])
	assert.Equal(t, Change{Path: "knowledge/b.md", Category: "knowledge", New: true}, changes[1])
}

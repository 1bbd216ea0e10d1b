package faillog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkbops/vaultsync/internal/models"
)

func TestEntryLine(t *testing.T) {
	e := Entry{
		Time:       time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC),
		Repository: "vault",
		Phase:      models.PhasePull,
		Message:    `rebase conflict; changes preserved in stash "vaultsync recovery"`,
	}
	line := e.Line()
	assert.Contains(t, line, "2026-08-29T10:30:00Z")
	assert.Contains(t, line, "repo=vault")
	assert.Contains(t, line, "phase=pull")
	assert.Contains(t, line, "stash")
}

func TestFileLog_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sync_failures.log")
	l := NewFileLog(path)

	require.NoError(t, l.Append(Entry{Repository: "vault", Phase: models.PhasePush, Message: "first"}))
	require.NoError(t, l.Append(Entry{Repository: "sessions", Phase: models.PhasePull, Message: "second"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "repo=vault")
	assert.Contains(t, lines[1], "repo=sessions")
}

func TestFileLog_DefaultsTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.log")
	l := NewFileLog(path)
	require.NoError(t, l.Append(Entry{Repository: "vault", Phase: models.PhaseCommit, Message: "x"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T`, string(data))
}

func TestMemLog(t *testing.T) {
	var l MemLog
	require.NoError(t, l.Append(Entry{Repository: "vault", Phase: models.PhasePush, Message: "x"}))
	require.Len(t, l.Entries, 1)
	assert.False(t, l.Entries[0].Time.IsZero())
}

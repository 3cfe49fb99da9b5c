package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/audit"
)

func TestTail_JSONLinesFromIndex(t *testing.T) {
	db, total := seedDatabase(t)

	out, err := execute(t, NewTailCommand(&RootOptions{Format: "json"}), "--db", db, "--from", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, total-2)

	var first audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 2, first.Index)
	assert.Equal(t, 3, first.Cursor())
	assert.NotEmpty(t, first.Event.Hash)
}

func TestTail_PastEndPrintsNothing(t *testing.T) {
	db, total := seedDatabase(t)

	out, err := execute(t, NewTailCommand(&RootOptions{Format: "text"}), "--db", db, "--from", "100")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Less(t, total, 100)
}

func TestTail_NegativeFrom(t *testing.T) {
	_, err := execute(t, NewTailCommand(&RootOptions{Format: "text"}), "--from", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

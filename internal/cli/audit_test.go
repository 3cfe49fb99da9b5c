package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/audit"
)

func decodePage(t *testing.T, out string) audit.Page {
	t.Helper()
	var resp struct {
		Status string     `json:"status"`
		Data   audit.Page `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestAudit_NewestPage(t *testing.T) {
	db, total := seedDatabase(t)

	out, err := execute(t, NewAuditCommand(&RootOptions{Format: "json"}), "--db", db, "--limit", "3")
	require.NoError(t, err)

	page := decodePage(t, out)
	require.Len(t, page.Events, 3)
	assert.Equal(t, total, page.NextCursor)
	assert.Equal(t, audit.ActionATSWrite, page.Events[2].Action)
}

func TestAudit_CursorWalksBackward(t *testing.T) {
	db, total := seedDatabase(t)

	out, err := execute(t, NewAuditCommand(&RootOptions{Format: "json"}), "--db", db, "--limit", "3", "--cursor", "3")
	require.NoError(t, err)

	page := decodePage(t, out)
	require.Len(t, page.Events, 3)
	assert.Equal(t, 0, page.NextCursor)
	assert.Equal(t, audit.ActionJobCreated, page.Events[0].Action)
	assert.Greater(t, total, 3)
}

func TestAudit_ActionFilter(t *testing.T) {
	db, _ := seedDatabase(t)

	out, err := execute(t, NewAuditCommand(&RootOptions{Format: "json"}), "--db", db, "--action", audit.ActionConsentCaptured)
	require.NoError(t, err)

	page := decodePage(t, out)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "C1", page.Events[0].Payload.String("candidateId"))
}

func TestAudit_TextOutput(t *testing.T) {
	db, _ := seedDatabase(t)

	out, err := execute(t, NewAuditCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, audit.ActionJobCreated)
	assert.Contains(t, out, "next cursor:")
}

func TestAudit_InvalidLimit(t *testing.T) {
	db, _ := seedDatabase(t)

	_, err := execute(t, NewAuditCommand(&RootOptions{Format: "text"}), "--db", db, "--limit", "5000")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "limit must be between")
}

func TestAudit_MissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")

	_, err := execute(t, NewAuditCommand(&RootOptions{Format: "text"}), "--db", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestAudit_NoPersistentStorage(t *testing.T) {
	_, err := execute(t, NewAuditCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no persistent storage")
}

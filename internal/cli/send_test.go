package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/outbound"
)

func TestSend_DemoMode(t *testing.T) {
	out, err := execute(t, NewSendCommand(&RootOptions{Format: "json"}),
		"--to", "+15550001111", "--body", "Are you free Friday?")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   outbound.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Regexp(t, `^mock-`, resp.Data.ProviderID)
	assert.True(t, resp.Data.Decision.OK)
	assert.False(t, resp.Data.Override)
}

func TestSend_BlockedByPolicy(t *testing.T) {
	out, err := execute(t, NewSendCommand(&RootOptions{Format: "json"}),
		"--to", "+15550001111", "--body", "hello", "--channel", "fax")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePolicy, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "channel.allowed")
}

func TestSend_PermissiveOverride(t *testing.T) {
	t.Setenv("RECRUITFLOW_POLICY_PERMISSIVE", "true")

	out, err := execute(t, NewSendCommand(&RootOptions{Format: "text"}),
		"--to", "+15550001111", "--body", "hello", "--channel", "fax")
	require.NoError(t, err)
	assert.Contains(t, out, "policy override: channel.allowed")
}

func TestSend_EmptyBody(t *testing.T) {
	_, err := execute(t, NewSendCommand(&RootOptions{Format: "text"}),
		"--to", "+15550001111", "--body", "   ")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSend_RequiredFlags(t *testing.T) {
	_, err := execute(t, NewSendCommand(&RootOptions{Format: "text"}), "--body", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestSend_RecordsToDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "send.db")

	_, err := execute(t, NewSendCommand(&RootOptions{Format: "text"}),
		"--db", db, "--to", "+15550001111", "--body", "Can you start Monday?")
	require.NoError(t, err)
	_, err = os.Stat(db)
	require.NoError(t, err)

	out, err := execute(t, NewAuditCommand(&RootOptions{Format: "json"}), "--db", db, "--action", audit.ActionMessageSent)
	require.NoError(t, err)
	page := decodePage(t, out)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "+15550001111", page.Events[0].Payload.String("to"))
}

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPolicy_ValidYAML(t *testing.T) {
	path := writePolicy(t, "policy.yaml", "allowedChannels: [sms]\nmaxQuestions: 2\n")

	out, err := execute(t, NewPolicyCommand(&RootOptions{Format: "text"}), path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ policy valid")
	assert.Contains(t, out, "allowed channels: sms")
	assert.Contains(t, out, "max questions:    2")
}

func TestPolicy_DryRunBlocked(t *testing.T) {
	path := writePolicy(t, "policy.json", `{
		// comments are allowed
		"allowedChannels": ["sms", "web"],
		"maxQuestions": 1,
	}`)

	out, err := execute(t, NewPolicyCommand(&RootOptions{Format: "json"}),
		path, "--channel", "whatsapp", "--body", "One? Two?")
	require.NoError(t, err)

	var resp struct {
		Data PolicyOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Found)
	require.NotNil(t, resp.Data.Decision)
	assert.False(t, resp.Data.Decision.OK)
	assert.Equal(t, []string{"channel.allowed", "questions.max"}, resp.Data.Decision.Failed())
}

func TestPolicy_DryRunAdmitted(t *testing.T) {
	path := writePolicy(t, "policy.cue", "allowedChannels: [\"sms\"]\nmaxQuestions: 3\n")

	out, err := execute(t, NewPolicyCommand(&RootOptions{Format: "text"}), path, "--body", "Free Tuesday?", "--asked", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "message would be sent")
}

func TestPolicy_Invalid(t *testing.T) {
	path := writePolicy(t, "policy.yaml", "maxQuestions: -4\n")

	out, err := execute(t, NewPolicyCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_POLICY]")
}

func TestPolicy_ExplicitFileMissing(t *testing.T) {
	_, err := execute(t, NewPolicyCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "policy.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPolicy_ConfiguredDefaults(t *testing.T) {
	t.Setenv("RECRUITFLOW_POLICY_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	out, err := execute(t, NewPolicyCommand(&RootOptions{Format: "text"}))
	require.NoError(t, err)
	assert.Contains(t, out, "built-in defaults")
	assert.Contains(t, out, "sms, whatsapp, web")
}

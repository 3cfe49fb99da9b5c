package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_IntakeConsent(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/intake_consent.yaml")
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden -update
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRunWithGolden_PolicyBlockedSend(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/policy_blocked_send.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	require.NoError(t, AssertGolden(t, scenario.Name, result))
}

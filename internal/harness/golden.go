package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recruitflow/internal/canonical"
)

// TraceSnapshot captures what a scenario run produced. Hashes and
// timestamps are left out: they follow from the trace and the fixed clock,
// and the chain itself is checked by chain_valid.
type TraceSnapshot struct {
	ScenarioName string                        `json:"scenario_name"`
	Outcomes     []Outcome                     `json:"outcomes"`
	Trace        []TraceEvent                  `json:"trace"`
	State        map[string][]canonical.Object `json:"state"`
}

// Snapshot renders the result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	obj, err := canonical.ObjectOf(TraceSnapshot{
		ScenarioName: name,
		Outcomes:     result.Outcomes,
		Trace:        result.Trace,
		State:        result.State,
	})
	if err != nil {
		return nil, err
	}
	return canonical.Marshal(obj)
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}

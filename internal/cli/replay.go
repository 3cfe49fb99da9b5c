package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/funnel"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the replay outcome.
type ReplayResult struct {
	Events        int                `json:"events"`
	Chain         audit.VerifyResult `json:"chain"`
	Stats         funnel.Stats       `json:"stats"`
	Deterministic bool               `json:"deterministic"`
	Differences   []string           `json:"differences,omitempty"`
}

// funnelSnapshot is the state compared between two replays.
type funnelSnapshot struct {
	stats      funnel.Stats
	candidates []funnel.Candidate
	jobs       []funnel.Job
	holds      []funnel.Hold
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild funnel state from the audit log and check determinism",
		Long: `Verify the audit chain, then rebuild funnel state from it twice and
compare the results.

The rebuilt state is what "serve" starts from after a restart; replay
reports its statistics without opening a listener or syncing anything.

Exit codes:
  0 - Chain intact and replay deterministic
  1 - Chain broken or replays differ
  2 - Command error (database not found, undecodable event, etc.)

Examples:
  recruitflow replay --db ./recruitflow.db
  recruitflow replay --db ./recruitflow.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, _, closer, err := openExistingLog(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closer()

	chain, err := log.Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify audit log", err)
	}

	first, events, err := replayOnce(ctx, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay audit log", err)
	}
	second, _, err := replayOnce(ctx, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay audit log", err)
	}

	result := ReplayResult{
		Events:        events,
		Chain:         chain,
		Stats:         first.stats,
		Deterministic: true,
	}
	if diffs := compareSnapshots(first, second); len(diffs) > 0 {
		result.Deterministic = false
		result.Differences = diffs
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayOnce rebuilds funnel state into a fresh engine. The engine never
// syncs, so the mock client is only there to satisfy the constructor.
func replayOnce(ctx context.Context, log *audit.Log) (funnelSnapshot, int, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := funnel.New(log, atssync.New(atssync.MockClient{}, log), funnel.WithLogger(quiet))
	n, err := engine.Restore(ctx)
	if err != nil {
		return funnelSnapshot{}, n, err
	}

	snap := funnelSnapshot{
		stats:      engine.Stats(),
		candidates: engine.Candidates(),
		jobs:       engine.Jobs(),
	}
	for _, c := range snap.candidates {
		if h, ok := engine.Hold(c.ID); ok {
			snap.holds = append(snap.holds, h)
		}
	}
	return snap, n, nil
}

func compareSnapshots(a, b funnelSnapshot) []string {
	var diffs []string
	if !reflect.DeepEqual(a.stats, b.stats) {
		diffs = append(diffs, "stats differ")
	}
	if !reflect.DeepEqual(a.jobs, b.jobs) {
		diffs = append(diffs, "jobs differ")
	}
	if !reflect.DeepEqual(a.holds, b.holds) {
		diffs = append(diffs, "holds differ")
	}
	if len(a.candidates) != len(b.candidates) {
		return append(diffs, fmt.Sprintf("candidate count differs: %d vs %d", len(a.candidates), len(b.candidates)))
	}
	for i := range a.candidates {
		if !reflect.DeepEqual(a.candidates[i], b.candidates[i]) {
			diffs = append(diffs, fmt.Sprintf("candidate %s differs", a.candidates[i].ID))
		}
	}
	return diffs
}

func replayFailed(result ReplayResult) bool {
	return !result.Chain.OK || !result.Deterministic
}

func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	switch {
	case !result.Chain.OK:
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeChain,
			Message: fmt.Sprintf("chain broken at index %d", *result.Chain.BrokenAtIndex),
		}
	case !result.Deterministic:
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "replay produced different state",
			Details: result.Differences,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if replayFailed(result) {
		return NewExitError(ExitFailure, response.Error.Message)
	}
	return nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replayed %d events\n", result.Events)
	if result.Chain.OK {
		fmt.Fprintln(w, "✓ chain intact")
	} else {
		fmt.Fprintf(w, "✗ chain broken at index %d\n", *result.Chain.BrokenAtIndex)
	}

	fmt.Fprintf(w, "\nJobs: %d  Candidates: %d  Consented: %d\n",
		result.Stats.Jobs, result.Stats.Candidates, result.Stats.Consented)
	statuses := make([]string, 0, len(result.Stats.ByStatus))
	for st := range result.Stats.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		n := result.Stats.ByStatus[funnel.Status(st)]
		if n == 0 && !verbose {
			continue
		}
		fmt.Fprintf(w, "  %-12s %d\n", st, n)
	}

	fmt.Fprintln(w)
	if result.Deterministic {
		fmt.Fprintln(w, "✓ replay is deterministic")
	} else {
		fmt.Fprintln(w, "✗ replay is NOT deterministic")
		for _, d := range result.Differences {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}

	if replayFailed(result) {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

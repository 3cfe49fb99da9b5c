package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/funnel"
	"github.com/roach88/recruitflow/internal/ident"
	"github.com/roach88/recruitflow/internal/store"
)

var seedEpoch = time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)

// seedDatabase writes a short funnel (one job, one candidate walked through
// to a confirmed interview) into a fresh SQLite file and returns its path
// and event count.
func seedDatabase(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recruitflow.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewStepping(seedEpoch, time.Millisecond)
	log, err := audit.Open(ctx, st, audit.DefaultSecret,
		audit.WithClock(clk),
		audit.WithIDs(ident.NewSequence("E")),
		audit.WithLogger(quiet),
	)
	require.NoError(t, err)

	adapter := atssync.New(atssync.MockClient{IDs: ident.NewSequence("A")}, log,
		atssync.WithLedger(st),
		atssync.WithClock(clk),
		atssync.WithLogger(quiet),
	)
	eng := funnel.New(log, adapter,
		funnel.WithJobIDs(ident.NewSequence("J")),
		funnel.WithCandidateIDs(ident.NewSequence("C")),
		funnel.WithQualification(funnel.QualifyFunc(func(string) bool { return true })),
		funnel.WithSlots(funnel.SlotFunc(func(string) string { return "2025-08-29T03:00:00Z" })),
		funnel.WithLogger(quiet),
	)

	job, err := eng.CreateJob(ctx, funnel.JobInput{Title: "Forklift operator", Location: "Reno", Shift: "night"})
	require.NoError(t, err)
	c, err := eng.Intake(ctx, funnel.CandidateInput{Name: "Ana", Phone: "+15550001111", Locale: "en", JobID: job.ID})
	require.NoError(t, err)
	_, err = eng.RecordOutreach(ctx, c.ID, funnel.OutreachInput{JobID: job.ID, Channel: "sms"})
	require.NoError(t, err)
	_, err = eng.CaptureConsent(ctx, c.ID, "sms")
	require.NoError(t, err)
	_, err = eng.Qualify(ctx, c.ID)
	require.NoError(t, err)
	_, err = eng.Propose(ctx, c.ID, job.ID)
	require.NoError(t, err)
	conf, err := eng.Confirm(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, conf.Synced())

	n, err := log.Len(ctx)
	require.NoError(t, err)
	return path, n
}

// tamperDatabase rewrites the payload of the first event behind the
// append-only triggers.
func tamperDatabase(t *testing.T, path string) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.DB().Exec("DROP TRIGGER audit_events_no_update")
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE audit_events SET payload = '{"jobId":"J9"}' WHERE seq = 0`)
	require.NoError(t, err)
}

// execute runs cmd with args and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

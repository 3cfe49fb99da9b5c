package funnel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/audit"
)

func TestRestore_RebuildsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	confirmed := f.qualified(t)
	_, err := f.engine.Confirm(ctx, confirmed.ID)
	require.NoError(t, err)

	held, err := f.engine.Intake(ctx, CandidateInput{Name: "Bo", Phone: "+15550300", JobID: "J1"})
	require.NoError(t, err)
	_, err = f.engine.CaptureConsent(ctx, held.ID, "agent")
	require.NoError(t, err)
	_, err = f.engine.Qualify(ctx, held.ID)
	require.NoError(t, err)
	_, err = f.engine.Propose(ctx, held.ID, "")
	require.NoError(t, err)

	restored := New(f.log, nil)
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.eventCount(t), n)

	assert.Equal(t, f.engine.Candidates(), restored.Candidates())
	assert.Equal(t, f.engine.Stats(), restored.Stats())

	job, ok := restored.Job("J1")
	require.True(t, ok)
	assert.Equal(t, []string{"forklift"}, job.Requirements)

	hold, ok := restored.Hold(held.ID)
	require.True(t, ok)
	assert.Equal(t, HoldPending, hold.Status)
	assert.Equal(t, testSlot, hold.Slot)

	// Phone index is rebuilt, so inbound matching works after restart.
	res, err := restored.HandleInbound(ctx, "+15550300", "hello")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, held.ID, res.CandidateID)
}

func TestRestore_UnknownCandidateFails(t *testing.T) {
	ctx := context.Background()
	log, err := audit.Open(ctx, audit.NewMemoryStorage(), audit.DefaultSecret)
	require.NoError(t, err)
	_, err = log.Append(ctx, audit.ActorAgent, audit.ConsentCaptured{CandidateID: "ghost"})
	require.NoError(t, err)

	_, err = New(log, nil).Restore(ctx)
	assert.ErrorContains(t, err, "ghost")
}

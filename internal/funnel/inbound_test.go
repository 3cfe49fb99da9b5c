package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/ident"
)

func TestHandleInbound_YesCapturesConsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, err := f.engine.Intake(ctx, CandidateInput{Name: "Ana", Phone: "+1 555 0200"})
	require.NoError(t, err)
	before := f.eventCount(t)

	res, err := f.engine.HandleInbound(ctx, "+15550200", "YES, I'm interested")
	require.NoError(t, err)
	assert.Equal(t, InboundResult{Matched: true, CandidateID: c.ID, Affirmative: true, ConsentCaptured: true}, res)

	got, _ := f.engine.Candidate(c.ID)
	assert.True(t, got.Consent)
	assert.Equal(t, StatusConsentedPending, got.Status)

	assert.Equal(t, []string{audit.ActionChannelInbound, audit.ActionConsentCaptured}, f.actions(t)[before:])
	evs, err := f.log.Read(ctx, before, before+2)
	require.NoError(t, err)
	assert.Equal(t, audit.ActorCandidate, evs[1].Actor)
	assert.Equal(t, "inbound", evs[1].Payload.String("source"))
}

func TestHandleInbound_NonAffirmative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, err := f.engine.Intake(ctx, CandidateInput{Name: "Ana", Phone: "+15550201"})
	require.NoError(t, err)

	for _, body := range []string{"no thanks", "yesterday works", ""} {
		res, err := f.engine.HandleInbound(ctx, "+15550201", body)
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.False(t, res.Affirmative, body)
		assert.False(t, res.ConsentCaptured)
	}
	got, _ := f.engine.Candidate(c.ID)
	assert.Equal(t, StatusContacted, got.Status)
}

func TestHandleInbound_YesAfterConsentOnlyRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.qualified(t)
	before := f.eventCount(t)

	res, err := f.engine.HandleInbound(ctx, c.Phone, "yes")
	require.NoError(t, err)
	assert.True(t, res.Affirmative)
	assert.False(t, res.ConsentCaptured)
	assert.Equal(t, []string{audit.ActionChannelInbound}, f.actions(t)[before:])
}

func TestHandleInbound_UnknownSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.engine.HandleInbound(ctx, "+1 999 0000", "yes")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	evs, err := f.log.Read(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, audit.ActionInboundUnknown, evs[0].Action)
	assert.Equal(t, "+19990000", evs[0].Payload.String("from"))
}

func TestHandleInbound_RequiresSender(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.HandleInbound(context.Background(), "", "yes")
	assert.True(t, fault.IsValidation(err))
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, isAffirmative("yes"))
	assert.True(t, isAffirmative("Yes!"))
	assert.True(t, isAffirmative("ok... yEs please"))
	assert.False(t, isAffirmative("eyes"))
	assert.False(t, isAffirmative("no"))
}

// gatedStorage blocks the first write of one action until release is
// closed, then fails it with err when set.
type gatedStorage struct {
	*audit.MemoryStorage
	action  string
	entered chan struct{}
	release chan struct{}
	err     error
	once    sync.Once
}

func newGatedStorage(action string, err error) *gatedStorage {
	return &gatedStorage{
		MemoryStorage: audit.NewMemoryStorage(),
		action:        action,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
		err:           err,
	}
}

func (g *gatedStorage) Write(ctx context.Context, ev audit.Event) error {
	gated := false
	if ev.Action == g.action {
		g.once.Do(func() { gated = true })
	}
	if gated {
		close(g.entered)
		<-g.release
		if g.err != nil {
			return g.err
		}
	}
	return g.MemoryStorage.Write(ctx, ev)
}

func newGatedEngine(t *testing.T, st audit.Storage) (*Engine, *audit.Log) {
	t.Helper()
	log, err := audit.Open(context.Background(), st, audit.DefaultSecret,
		audit.WithClock(clock.NewStepping(time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC), time.Millisecond)),
		audit.WithIDs(ident.NewSequence("E")),
	)
	require.NoError(t, err)
	adapter := atssync.New(&stubATS{id: "A1"}, log, atssync.WithMaxAttempts(1))
	return New(log, adapter, WithCandidateIDs(ident.NewSequence("C"))), log
}

func logActions(t *testing.T, log *audit.Log) []string {
	t.Helper()
	var out []string
	for entry, err := range log.Scan(context.Background(), 0) {
		require.NoError(t, err)
		out = append(out, entry.Event.Action)
	}
	return out
}

type inboundOutcome struct {
	res InboundResult
	err error
}

func TestHandleInbound_WaitsForPendingIntake(t *testing.T) {
	ctx := context.Background()
	st := newGatedStorage(audit.ActionCandidateCreated, nil)
	eng, log := newGatedEngine(t, st)

	intakeDone := make(chan error, 1)
	go func() {
		_, err := eng.Intake(ctx, CandidateInput{Name: "Ana", Phone: "+15550100"})
		intakeDone <- err
	}()
	<-st.entered

	inbound := make(chan inboundOutcome, 1)
	go func() {
		res, err := eng.HandleInbound(ctx, "+15550100", "yes")
		inbound <- inboundOutcome{res, err}
	}()

	select {
	case out := <-inbound:
		t.Fatalf("inbound finished before intake committed: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	require.NoError(t, <-intakeDone)
	out := <-inbound
	require.NoError(t, out.err)
	assert.Equal(t, InboundResult{Matched: true, CandidateID: "C1", Affirmative: true, ConsentCaptured: true}, out.res)

	assert.Equal(t, []string{
		audit.ActionCandidateCreated,
		audit.ActionChannelInbound,
		audit.ActionConsentCaptured,
	}, logActions(t, log))
}

func TestHandleInbound_FailedIntakeRecordsUnknown(t *testing.T) {
	ctx := context.Background()
	st := newGatedStorage(audit.ActionCandidateCreated, errors.New("disk full"))
	eng, log := newGatedEngine(t, st)

	intakeDone := make(chan error, 1)
	go func() {
		_, err := eng.Intake(ctx, CandidateInput{Name: "Ana", Phone: "+15550100"})
		intakeDone <- err
	}()
	<-st.entered

	inbound := make(chan inboundOutcome, 1)
	go func() {
		res, err := eng.HandleInbound(ctx, "+15550100", "yes")
		inbound <- inboundOutcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	close(st.release)
	require.Error(t, <-intakeDone)
	out := <-inbound
	require.NoError(t, out.err)
	assert.False(t, out.res.Matched)
	assert.True(t, out.res.Affirmative)

	assert.Equal(t, []string{audit.ActionInboundUnknown}, logActions(t, log))
	_, ok := eng.Candidate("C1")
	assert.False(t, ok)
}

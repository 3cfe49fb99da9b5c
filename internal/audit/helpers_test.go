package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/ident"
)

var testEpoch = time.Date(2025, 8, 29, 9, 0, 0, 0, time.UTC)

// newTestLog creates a log over memory storage with a stepping clock and
// sequential ids.
func newTestLog(t *testing.T) (*Log, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage()
	log, err := Open(context.Background(), storage, DefaultSecret,
		WithClock(clock.NewStepping(testEpoch, time.Millisecond)),
		WithIDs(ident.NewSequence("E")),
	)
	require.NoError(t, err)
	return log, storage
}

func appendN(t *testing.T, log *Log, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := log.Append(context.Background(), ActorSystem, ConsentCaptured{
			CandidateID: "C" + string(rune('a'+i%26)),
			Source:      "test",
		})
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

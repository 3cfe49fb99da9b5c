package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/ident"
)

func newLog(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.Open(context.Background(), audit.NewMemoryStorage(), audit.DefaultSecret,
		audit.WithIDs(ident.NewSequence("E")))
	require.NoError(t, err)
	return log
}

func appendJobs(t *testing.T, log *audit.Log, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := log.Append(context.Background(), audit.ActorSystem, audit.JobCreated{JobID: id})
		require.NoError(t, err)
	}
}

func receive(t *testing.T, sub *Subscription) Delivery {
	t.Helper()
	select {
	case d, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestSubscribe_BacklogThenLive(t *testing.T) {
	log := newLog(t)
	appendJobs(t, log, "J1", "J2", "J3")

	sub, err := New(log).Subscribe(context.Background(), 1)
	require.NoError(t, err)
	defer sub.Close()

	d := receive(t, sub)
	assert.Equal(t, 2, d.Cursor)
	assert.Equal(t, "E2", d.Event.ID)
	d = receive(t, sub)
	assert.Equal(t, 3, d.Cursor)

	appendJobs(t, log, "J4")
	d = receive(t, sub)
	assert.Equal(t, 4, d.Cursor)
	assert.Equal(t, "J4", d.Event.Payload.String("jobId"))
}

func TestSubscribe_CloseEndsChannel(t *testing.T) {
	log := newLog(t)
	sub, err := New(log).Subscribe(context.Background(), 0)
	require.NoError(t, err)

	sub.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
}

func TestSubscribe_ContextCancel(t *testing.T) {
	log := newLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := New(log).Subscribe(ctx, 0)
	require.NoError(t, err)

	cancel()
	for range sub.C {
	}
	assert.NoError(t, sub.Err())
}

func TestSubscribe_NegativeCursor(t *testing.T) {
	_, err := New(newLog(t)).Subscribe(context.Background(), -1)
	assert.True(t, fault.IsValidation(err))
}

func TestSubscribe_SlowConsumerDoesNotBlockWriters(t *testing.T) {
	log := newLog(t)
	sub, err := New(log, WithBuffer(1)).Subscribe(context.Background(), 0)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 50 {
			_, err := log.Append(context.Background(), audit.ActorSystem, audit.JobCreated{JobID: "J" + strconv.Itoa(i)})
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("appends blocked behind a slow subscriber")
	}

	// Every event still arrives, in order.
	for i := range 50 {
		d := receive(t, sub)
		assert.Equal(t, i+1, d.Cursor)
	}
}

func TestSubscribe_Independent(t *testing.T) {
	log := newLog(t)
	p := New(log)
	a, err := p.Subscribe(context.Background(), 0)
	require.NoError(t, err)
	b, err := p.Subscribe(context.Background(), 0)
	require.NoError(t, err)
	defer b.Close()

	appendJobs(t, log, "J1")
	receive(t, a)
	a.Close()

	appendJobs(t, log, "J2")
	assert.Equal(t, 1, receive(t, b).Cursor)
	assert.Equal(t, 2, receive(t, b).Cursor)
}

func TestResumeCursor(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    int
		wantOK  bool
		wantErr bool
	}{
		{name: "none"},
		{name: "query", query: "4", want: 4, wantOK: true},
		{name: "header wins", header: "7", query: "4", want: 7, wantOK: true},
		{name: "zero", query: "0", want: 0, wantOK: true},
		{name: "negative", query: "-1", wantErr: true},
		{name: "garbage", header: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/audit/stream"
			if tt.query != "" {
				target += "?cursor=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Last-Event-ID", tt.header)
			}
			got, ok, err := ResumeCursor(r)
			if tt.wantErr {
				assert.True(t, fault.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readSSE parses n events from an SSE stream, skipping comments.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.Len(t, out, n)
	return out
}

func streamServer(p *Publisher, serve func(*Publisher, http.ResponseWriter, *http.Request, int) error) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, _, err := ResumeCursor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = serve(p, w, r, from)
	}))
}

func TestServeSSE_ResumeFromLastEventID(t *testing.T) {
	log := newLog(t)
	appendJobs(t, log, "J1", "J2", "J3")
	srv := streamServer(New(log, WithHeartbeat(50*time.Millisecond)), (*Publisher).ServeSSE)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	events := readSSE(t, sc, 1)
	assert.Equal(t, "3", events[0].id)
	assert.Equal(t, "audit", events[0].event)

	var ev audit.Event
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &ev))
	assert.Equal(t, "E3", ev.ID)
	assert.Equal(t, audit.ActionJobCreated, ev.Action)

	appendJobs(t, log, "J4")
	events = readSSE(t, sc, 1)
	assert.Equal(t, "4", events[0].id)
}

func TestServeSSE_Heartbeat(t *testing.T) {
	log := newLog(t)
	srv := streamServer(New(log, WithHeartbeat(10*time.Millisecond)), (*Publisher).ServeSSE)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?cursor=0", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sawPing := false
	for !sawPing && sc.Scan() {
		sawPing = sc.Text() == ": ping"
	}
	assert.True(t, sawPing)
}

func TestServeWS_StreamsFromCursor(t *testing.T) {
	log := newLog(t)
	appendJobs(t, log, "J1", "J2")
	srv := streamServer(New(log), (*Publisher).ServeWS)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?cursor=1", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var d Delivery
	require.NoError(t, wsjson.Read(ctx, c, &d))
	assert.Equal(t, 2, d.Cursor)
	assert.Equal(t, "E2", d.Event.ID)

	appendJobs(t, log, "J3")
	require.NoError(t, wsjson.Read(ctx, c, &d))
	assert.Equal(t, 3, d.Cursor)
	assert.Equal(t, "J3", d.Event.Payload.String("jobId"))
}

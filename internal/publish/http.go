package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/recruitflow/internal/fault"
)

const writeTimeout = 10 * time.Second

// ResumeCursor returns the cursor a streaming client asked for.
// Last-Event-ID wins over the cursor query parameter. ok is false when
// the client named neither.
func ResumeCursor(r *http.Request) (cursor int, ok bool, err error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("cursor"))
	}
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, fault.Validation("invalid cursor %q", raw)
	}
	return n, true, nil
}

// ServeSSE streams deliveries from cursor as Server-Sent Events until the
// client disconnects. Each event carries `event: audit` and the next
// cursor as its id, so a reconnecting EventSource resumes without gaps.
func (p *Publisher) ServeSSE(w http.ResponseWriter, r *http.Request, from int) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fault.Internal("streaming unsupported", nil)
	}
	sub, err := p.Subscribe(r.Context(), from)
	if err != nil {
		return err
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	flusher.Flush()

	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case d, ok := <-sub.C:
			if !ok {
				return sub.Err()
			}
			data, err := json.Marshal(d.Event)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", d.Event.ID, err)
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: audit\ndata: %s\n\n", d.Cursor, data); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// ServeWS upgrades the request to a WebSocket and streams deliveries as
// JSON messages {cursor, event}. Clients resume by reconnecting with
// ?cursor=<last cursor seen>.
func (p *Publisher) ServeWS(w http.ResponseWriter, r *http.Request, from int) error {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		return nil
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// Client messages are ignored; CloseRead cancels ctx when the peer goes away.
	ctx := c.CloseRead(r.Context())

	sub, err := p.Subscribe(ctx, from)
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, err.Error())
		return err
	}
	defer sub.Close()

	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				return nil
			}
		case d, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					c.Close(websocket.StatusInternalError, "subscription failed")
					return err
				}
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, d)
			cancel()
			if err != nil {
				p.logger.Debug("websocket write failed", "error", err)
				return nil
			}
		}
	}
}

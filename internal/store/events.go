package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/canonical"
)

// Write appends an audit event at the next seq.
// The payload is stored as canonical JSON so the stored bytes are the
// hashed bytes.
func (s *Store) Write(ctx context.Context, ev audit.Event) error {
	payload, err := canonical.Marshal(payloadOrEmpty(ev.Payload))
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(seq, id, ts, actor, action, payload, hash, prev_hash)
		VALUES ((SELECT COALESCE(MAX(seq) + 1, 0) FROM audit_events), ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		int64(ev.TS),
		string(ev.Actor),
		ev.Action,
		string(payload),
		ev.Hash,
		ev.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Read returns events with seq in [from, to), ordered by seq.
// Returns an empty slice (not nil) when the range is empty.
func (s *Store) Read(ctx context.Context, from, to int) ([]audit.Event, error) {
	from = max(from, 0)
	if to <= from {
		return []audit.Event{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, actor, action, payload, hash, prev_hash
		FROM audit_events
		WHERE seq >= ? AND seq < ?
		ORDER BY seq ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Len returns the number of stored events.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var (
		ev      audit.Event
		ts      int64
		actor   string
		payload string
	)
	if err := rows.Scan(&ev.ID, &ts, &actor, &ev.Action, &payload, &ev.Hash, &ev.PrevHash); err != nil {
		return audit.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.TS = audit.Timestamp(ts)
	ev.Actor = audit.Actor(actor)

	var obj canonical.Object
	if err := obj.UnmarshalJSON([]byte(payload)); err != nil {
		return audit.Event{}, fmt.Errorf("scan event %s: payload: %w", ev.ID, err)
	}
	ev.Payload = obj
	return ev, nil
}

func payloadOrEmpty(p canonical.Object) canonical.Object {
	if p == nil {
		return canonical.Object{}
	}
	return p
}

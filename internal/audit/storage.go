package audit

import (
	"context"
	"sync"
)

// Storage is the persistence contract the log writes through.
//
// Implementations must preserve write order: the event written n-th is
// returned at index n-1 by Read. Write is only ever called by one Log at a
// time, under that log's append lock.
type Storage interface {
	// Write appends ev at index Len().
	Write(ctx context.Context, ev Event) error

	// Read returns events in [from, to), clamped to the stored range.
	Read(ctx context.Context, from, to int) ([]Event, error)

	// Len returns the number of stored events.
	Len(ctx context.Context) (int, error)
}

// MemoryStorage keeps events in a slice. Safe for concurrent use.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Write(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Payload = ev.Payload.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStorage) Read(ctx context.Context, from, to int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	from = max(from, 0)
	to = min(to, len(m.events))
	if from >= to {
		return nil, nil
	}
	out := make([]Event, 0, to-from)
	for _, ev := range m.events[from:to] {
		ev.Payload = ev.Payload.Clone()
		out = append(out, ev)
	}
	return out, nil
}

func (m *MemoryStorage) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), nil
}

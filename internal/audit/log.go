package audit

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/recruitflow/internal/canonical"
	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/ident"
)

const (
	// DefaultSecret is the development signing secret.
	DefaultSecret = "dev-signing-secret"

	// DefaultPageLimit is the page size when none is given.
	DefaultPageLimit = 250

	// MaxPageLimit bounds a single page.
	MaxPageLimit = 1000

	// DefaultPollInterval bounds tail staleness when another writer
	// shares the storage.
	DefaultPollInterval = time.Second

	readBatch = 500
)

// Log is an append-only hash chain over a Storage.
//
// lastHash is owned by the Log and only read or advanced while mu is held.
// Tail waiters are woken through notify, a channel that is closed and
// replaced after every append.
type Log struct {
	mu       sync.Mutex
	storage  Storage
	secret   string
	lastHash string

	clock  clock.Clock
	ids    ident.Generator
	poll   time.Duration
	logger *slog.Logger

	notifyMu sync.Mutex
	notify   chan struct{}
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used for event timestamps and tail polling.
func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

// WithIDs sets the event id generator.
func WithIDs(g ident.Generator) Option {
	return func(l *Log) { l.ids = g }
}

// WithPollInterval sets the tail poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Open creates a Log over storage and restores lastHash from the last
// stored event, so a restarted process continues the same chain.
func Open(ctx context.Context, storage Storage, secret string, opts ...Option) (*Log, error) {
	l := &Log{
		storage:  storage,
		secret:   secret,
		lastHash: GenesisHash,
		clock:    clock.Real(),
		ids:      ident.UUIDv7{},
		poll:     DefaultPollInterval,
		logger:   slog.Default(),
		notify:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	n, err := storage.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if n > 0 {
		last, err := storage.Read(ctx, n-1, n)
		if err != nil {
			return nil, fmt.Errorf("open audit log: read last event: %w", err)
		}
		if len(last) != 1 {
			return nil, fmt.Errorf("open audit log: expected last event at %d", n-1)
		}
		l.lastHash = last[0].Hash
		l.logger.Info("audit log restored", "events", n)
	}
	return l, nil
}

// Append validates p and appends it as the next event in the chain.
func (l *Log) Append(ctx context.Context, actor Actor, p Payload) (Event, error) {
	if !actor.Valid() {
		return Event{}, fault.Validation("unknown actor %q", actor)
	}
	obj, err := EncodePayload(p)
	if err != nil {
		return Event{}, err
	}
	return l.append(ctx, actor, p.Action(), obj)
}

// AppendObject appends an untyped payload after checking it against the
// variant registered for action.
func (l *Log) AppendObject(ctx context.Context, actor Actor, action string, payload canonical.Object) (Event, error) {
	if !actor.Valid() {
		return Event{}, fault.Validation("unknown actor %q", actor)
	}
	if payload == nil {
		payload = canonical.Object{}
	}
	if _, err := DecodePayload(action, payload); err != nil {
		return Event{}, err
	}
	return l.append(ctx, actor, action, payload.Clone())
}

func (l *Log) append(ctx context.Context, actor Actor, action string, payload canonical.Object) (Event, error) {
	ev := Event{
		ID:      l.ids.Generate(),
		Actor:   actor,
		Action:  action,
		Payload: payload,
	}

	l.mu.Lock()
	ev.TS = TimestampOf(l.clock.Now())
	ev.PrevHash = l.lastHash
	hash, err := ComputeHash(ev.TS, ev.Payload, ev.PrevHash, l.secret)
	if err != nil {
		l.mu.Unlock()
		return Event{}, fault.Internal("compute event hash", err)
	}
	ev.Hash = hash
	if err := l.storage.Write(ctx, ev); err != nil {
		l.mu.Unlock()
		return Event{}, fault.Internal("write audit event", err)
	}
	l.lastHash = hash
	l.mu.Unlock()

	l.wake()
	l.logger.Debug("audit event appended", "action", action, "actor", actor, "id", ev.ID)
	return ev, nil
}

// wake releases every goroutine blocked in Tail.
func (l *Log) wake() {
	l.notifyMu.Lock()
	close(l.notify)
	l.notify = make(chan struct{})
	l.notifyMu.Unlock()
}

func (l *Log) waitChan() <-chan struct{} {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	return l.notify
}

// LastHash returns the hash of the most recent event, or GenesisHash.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Len returns the number of events in the log.
func (l *Log) Len(ctx context.Context) (int, error) {
	return l.storage.Len(ctx)
}

// Read returns events in [from, to).
func (l *Log) Read(ctx context.Context, from, to int) ([]Event, error) {
	return l.storage.Read(ctx, from, to)
}

// Scan yields the events stored at or after from, without waiting for
// new ones.
func (l *Log) Scan(ctx context.Context, from int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		n, err := l.storage.Len(ctx)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for next := max(from, 0); next < n; {
			batch, err := l.storage.Read(ctx, next, min(n, next+readBatch))
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, ev := range batch {
				if !yield(Entry{Index: next, Event: ev}, nil) {
					return
				}
				next++
			}
		}
	}
}

// Verify recomputes every hash from the genesis sentinel. A broken chain
// is reported in the result, not returned as an error; the error return
// is reserved for storage failures.
func (l *Log) Verify(ctx context.Context) (VerifyResult, error) {
	v := NewVerifier(l.secret)
	total := 0
	for entry, err := range l.Scan(ctx, 0) {
		if err != nil {
			return VerifyResult{}, fmt.Errorf("verify: %w", err)
		}
		total++
		if v.broken == nil {
			if verr := v.Add(entry.Event); verr != nil {
				l.logger.Warn("audit chain broken", "index", entry.Index, "error", verr)
			}
		}
	}
	return v.Result(total), nil
}

// Page is one window of cursor pagination.
type Page struct {
	Events     []Event `json:"events"`
	NextCursor int     `json:"nextCursor"`
}

// Page returns a window of events ending at cursor.
//
// Without a cursor it returns the newest limit events and NextCursor equal
// to the total count. With cursor c it returns [max(0,c-limit), c) and
// NextCursor max(0, c-limit). Walking backward from cursor = total with a
// fixed limit visits every event once and ends at 0. The cursorless page
// is the same window as cursor = total, so a walk that starts from it
// continues at NextCursor - len(Events).
//
// limit 0 selects DefaultPageLimit.
func (l *Log) Page(ctx context.Context, cursor *int, limit int) (Page, error) {
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 0 || limit > MaxPageLimit {
		return Page{}, fault.Validation("limit must be between 1 and %d, got %d", MaxPageLimit, limit)
	}

	total, err := l.storage.Len(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("page: %w", err)
	}

	end := total
	if cursor != nil {
		if *cursor < 0 || *cursor > total {
			return Page{}, fault.Validation("cursor must be between 0 and %d, got %d", total, *cursor)
		}
		end = *cursor
	}
	start := max(0, end-limit)

	events, err := l.storage.Read(ctx, start, end)
	if err != nil {
		return Page{}, fmt.Errorf("page: %w", err)
	}
	if events == nil {
		events = []Event{}
	}

	next := start
	if cursor == nil {
		next = total
	}
	return Page{Events: events, NextCursor: next}, nil
}

// Tail yields every event at index >= from, in order, then waits for new
// appends. It ends when ctx is done. Appends through this Log wake the
// iterator immediately; the poll interval bounds staleness for writes
// made by another process sharing the storage.
func (l *Log) Tail(ctx context.Context, from int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if from < 0 {
			yield(Entry{}, fault.Validation("tail index must be >= 0, got %d", from))
			return
		}
		next := from
		for {
			// Take the wait channel before reading the length so an
			// append between the two is not missed.
			wait := l.waitChan()

			n, err := l.storage.Len(ctx)
			if err != nil {
				if ctx.Err() == nil {
					yield(Entry{}, err)
				}
				return
			}

			if next < n {
				batch, err := l.storage.Read(ctx, next, min(n, next+readBatch))
				if err != nil {
					if ctx.Err() == nil {
						yield(Entry{}, err)
					}
					return
				}
				for _, ev := range batch {
					if !yield(Entry{Index: next, Event: ev}, nil) {
						return
					}
					next++
				}
				if len(batch) > 0 {
					continue
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-wait:
			case <-l.clock.After(l.poll):
			}
		}
	}
}

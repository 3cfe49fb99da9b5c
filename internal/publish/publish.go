// Package publish fans audit events out to live subscribers.
//
// A subscription tails the log from a cursor into a bounded channel. Each
// subscription has its own goroutine, so a slow consumer stalls only its
// own channel; writers never wait on subscribers. The same cursor
// contract is exposed over Server-Sent Events and WebSocket: the cursor
// sent with an event is the index to resume from after it.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/fault"
)

const (
	// DefaultBuffer is the per-subscription channel capacity.
	DefaultBuffer = 64

	// DefaultHeartbeat is the idle interval between keepalives.
	DefaultHeartbeat = 20 * time.Second
)

// Delivery is one event together with the cursor that follows it.
type Delivery struct {
	Cursor int         `json:"cursor"`
	Event  audit.Event `json:"event"`
}

// Publisher creates subscriptions on a log.
type Publisher struct {
	log       *audit.Log
	buffer    int
	heartbeat time.Duration
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithHeartbeat sets the keepalive interval for streaming handlers.
func WithHeartbeat(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.heartbeat = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New creates a publisher over log.
func New(log *audit.Log, opts ...Option) *Publisher {
	p := &Publisher{
		log:       log,
		buffer:    DefaultBuffer,
		heartbeat: DefaultHeartbeat,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscription is a live feed of deliveries. C is closed when the
// subscription ends; Err then reports why, or nil after a cancel.
type Subscription struct {
	C <-chan Delivery

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Subscribe starts delivering every event at index >= from, in append
// order, until ctx is done or Close is called.
func (p *Publisher) Subscribe(ctx context.Context, from int) (*Subscription, error) {
	if from < 0 {
		return nil, fault.Validation("cursor must be >= 0, got %d", from)
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Delivery, p.buffer)
	sub := &Subscription{C: ch, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(ch)
		for entry, err := range p.log.Tail(ctx, from) {
			if err != nil {
				sub.setErr(err)
				p.logger.Warn("subscription ended", "error", err)
				return
			}
			select {
			case ch <- Delivery{Cursor: entry.Cursor(), Event: entry.Event}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

// Close cancels the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Package clock abstracts wall-clock time so audit timestamps, retry
// backoff and tail polling can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the service depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually advanced clock.
//
// Now returns the current fake time. After channels fire when Advance moves
// time past their deadline, or immediately when d <= 0. If Step is set,
// every Now call advances the clock by Step afterwards, which gives strictly
// increasing audit timestamps without explicit Advance calls.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	step    time.Duration
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake creates a fake clock at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewStepping creates a fake clock that advances by step after each Now.
func NewStepping(start time.Time, step time.Duration) *Fake {
	return &Fake{now: start, step: step}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now
	if f.step > 0 {
		f.advanceLocked(f.step)
	}
	return now
}

// After returns a channel that fires once the clock passes now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, waiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every expired After channel.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceLocked(d)
}

func (f *Fake) advanceLocked(d time.Duration) {
	f.now = f.now.Add(d)
	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if !f.now.Before(w.deadline) {
			w.ch <- f.now
			continue
		}
		pending = append(pending, w)
	}
	f.waiters = pending
}

// Waiters reports how many After channels are pending. Tests use it to
// wait until a goroutine is parked on the clock before advancing.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

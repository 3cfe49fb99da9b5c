// Package atssync writes confirmed placements to the external applicant
// tracking system and records the outcome in the audit log.
//
// Writes carry a deterministic idempotency key derived from
// (candidateId, jobId, slot). Transient failures (network errors,
// timeouts, HTTP 429 and 5xx) are retried with exponential backoff up to
// a fixed attempt cap; other failures stop immediately. Success appends
// ats.write, failure appends ats.error. The audit log lock is only held
// for those appends, never across the remote call.
package atssync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/store"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 500 * time.Millisecond
	DefaultTimeout     = 5 * time.Second
)

// idempotencyDomain keys the BLAKE3 hash so the same ids hashed for
// another purpose never collide with an ATS key.
var idempotencyDomain = domainKey("recruitflow/ats-idempotency/v1")

func domainKey(s string) [32]byte {
	var key [32]byte
	copy(key[:], s)
	return key
}

// Application is one placement to write to the ATS.
type Application struct {
	CandidateID string `json:"candidateId"`
	JobID       string `json:"jobId"`
	Slot        string `json:"slot"`
}

// Ref is the outcome of a sync.
type Ref struct {
	ApplicationID  string `json:"applicationId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	Attempts       int    `json:"attempts"`
	Deduplicated   bool   `json:"deduplicated,omitempty"`
}

// SyncError is a sync that failed after Attempts tries.
type SyncError struct {
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("ats sync failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IdempotencyKey returns hex(BLAKE3-keyed(candidateId 0x00 jobId 0x00 slot)).
func IdempotencyKey(app Application) string {
	hasher, err := blake3.NewKeyed(idempotencyDomain[:])
	if err != nil {
		panic("atssync: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(app.CandidateID))
	hasher.Write([]byte{0x00})
	hasher.Write([]byte(app.JobID))
	hasher.Write([]byte{0x00})
	hasher.Write([]byte(app.Slot))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Ledger remembers successful writes by idempotency key.
// Implemented by store.Store.
type Ledger interface {
	LookupApplication(ctx context.Context, key string) (store.Application, bool, error)
	RecordApplication(ctx context.Context, app store.Application) error
}

// Adapter performs ATS writes with retry and records their outcome.
type Adapter struct {
	client      Client
	log         *audit.Log
	ledger      Ledger
	clock       clock.Clock
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLedger enables deduplication through a durable ledger.
func WithLedger(l Ledger) Option {
	return func(a *Adapter) { a.ledger = l }
}

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithMaxAttempts caps the number of tries. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(a *Adapter) {
		if n >= 1 {
			a.maxAttempts = n
		}
	}
}

// WithBackoff sets the wait before the second attempt; later waits double.
func WithBackoff(d time.Duration) Option {
	return func(a *Adapter) { a.backoff = d }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New creates an adapter writing through client and recording to log.
func New(client Client, log *audit.Log, opts ...Option) *Adapter {
	a := &Adapter{
		client:      client,
		log:         log,
		clock:       clock.Real(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sync writes app to the ATS.
//
// Exactly one ats.write or ats.error event is appended per call. On failure
// the returned error is EXTERNAL_DEPENDENCY wrapping a *SyncError and the
// Ref still carries the idempotency key and attempt count.
func (a *Adapter) Sync(ctx context.Context, app Application) (Ref, error) {
	if app.CandidateID == "" || app.JobID == "" || app.Slot == "" {
		return Ref{}, fault.Validation("sync requires candidateId, jobId and slot")
	}
	ref := Ref{IdempotencyKey: IdempotencyKey(app)}

	// The outcome must be recorded even if the caller gave up.
	recordCtx := context.WithoutCancel(ctx)

	if a.ledger != nil {
		prior, found, err := a.ledger.LookupApplication(ctx, ref.IdempotencyKey)
		if err != nil {
			a.logger.Warn("ats ledger lookup failed", "key", ref.IdempotencyKey, "error", err)
		} else if found {
			ref.ApplicationID = prior.ApplicationID
			ref.Deduplicated = true
			if _, err := a.log.Append(recordCtx, audit.ActorAgent, a.writeEvent(app, ref)); err != nil {
				return ref, err
			}
			a.logger.Info("ats write deduplicated", "candidate_id", app.CandidateID, "application_id", ref.ApplicationID)
			return ref, nil
		}
	}

	id, attempts, err := a.createWithRetry(ctx, app, ref.IdempotencyKey)
	ref.Attempts = attempts
	if err != nil {
		syncErr := &SyncError{Attempts: attempts, Err: err}
		if _, appendErr := a.log.Append(recordCtx, audit.ActorAgent, audit.ATSError{
			CandidateID:    app.CandidateID,
			JobID:          app.JobID,
			Slot:           app.Slot,
			Message:        err.Error(),
			IdempotencyKey: ref.IdempotencyKey,
			Attempts:       attempts,
		}); appendErr != nil {
			return ref, appendErr
		}
		a.logger.Warn("ats write failed",
			"candidate_id", app.CandidateID,
			"job_id", app.JobID,
			"attempts", attempts,
			"error", err,
		)
		return ref, fault.External("ats", syncErr)
	}

	ref.ApplicationID = id
	if a.ledger != nil {
		if err := a.ledger.RecordApplication(recordCtx, store.Application{
			IdempotencyKey: ref.IdempotencyKey,
			CandidateID:    app.CandidateID,
			JobID:          app.JobID,
			Slot:           app.Slot,
			ApplicationID:  id,
		}); err != nil {
			a.logger.Warn("ats ledger record failed", "key", ref.IdempotencyKey, "error", err)
		}
	}
	if _, err := a.log.Append(recordCtx, audit.ActorAgent, a.writeEvent(app, ref)); err != nil {
		return ref, err
	}
	a.logger.Info("ats write", "candidate_id", app.CandidateID, "application_id", id, "attempts", attempts)
	return ref, nil
}

func (a *Adapter) writeEvent(app Application, ref Ref) audit.ATSWrite {
	return audit.ATSWrite{
		CandidateID:    app.CandidateID,
		JobID:          app.JobID,
		Slot:           app.Slot,
		ApplicationID:  ref.ApplicationID,
		IdempotencyKey: ref.IdempotencyKey,
		Attempts:       ref.Attempts,
		Deduplicated:   ref.Deduplicated,
	}
}

// createWithRetry returns the application id and the number of attempts made.
func (a *Adapter) createWithRetry(ctx context.Context, app Application, key string) (string, int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := a.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", attempts, ctx.Err()
			case <-a.clock.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		id, err := a.client.CreateApplication(attemptCtx, app, key)
		cancel()
		if err == nil {
			return id, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransientError(err) {
			return "", attempts, err
		}
		a.logger.Warn("transient ats failure, retrying",
			"candidate_id", app.CandidateID,
			"attempt", attempts,
			"error", err,
		)
	}
	return "", attempts, lastErr
}

// isTransientError returns true for failures worth retrying: connection
// errors, timeouts, HTTP 429 and 5xx. Other 4xx replies and malformed
// responses are permanent.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	return true
}

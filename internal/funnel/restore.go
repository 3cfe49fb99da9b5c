package funnel

import (
	"context"
	"fmt"

	"github.com/roach88/recruitflow/internal/audit"
)

// Restore rebuilds jobs, candidates and holds by replaying the audit log.
// It must run before the engine serves requests and never appends.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	for entry, err := range e.log.Scan(ctx, 0) {
		if err != nil {
			return applied, fmt.Errorf("restore: %w", err)
		}
		p, err := audit.DecodePayload(entry.Event.Action, entry.Event.Payload)
		if err != nil {
			return applied, fmt.Errorf("restore: event %d: %w", entry.Index, err)
		}
		if err := e.apply(p); err != nil {
			return applied, fmt.Errorf("restore: event %d (%s): %w", entry.Index, entry.Event.Action, err)
		}
		applied++
	}
	e.logger.Info("funnel state restored",
		"events", applied,
		"jobs", len(e.jobs),
		"candidates", len(e.candidates),
	)
	return applied, nil
}

// apply folds one payload into state. Caller holds e.mu.
func (e *Engine) apply(p audit.Payload) error {
	switch p := p.(type) {
	case audit.JobCreated:
		e.jobs[p.JobID] = Job{
			ID:           p.JobID,
			Title:        p.Title,
			Location:     p.Location,
			Shift:        p.Shift,
			Requirements: append([]string{}, p.Requirements...),
		}

	case audit.CandidateCreated:
		status := Status(p.Status)
		if status == "" {
			status = StatusContacted
		}
		e.candidates[p.CandidateID] = Candidate{
			ID:      p.CandidateID,
			Name:    p.Name,
			Phone:   p.Phone,
			Locale:  p.Locale,
			JobID:   p.JobID,
			Consent: p.Consent,
			Status:  status,
		}
		if p.Phone != "" {
			e.phones[p.Phone] = p.CandidateID
		}

	case audit.OutreachSent:
		return e.update(p.CandidateID, func(c *Candidate) {
			if c.JobID == "" {
				c.JobID = p.JobID
			}
		})

	case audit.ConsentCaptured:
		return e.update(p.CandidateID, func(c *Candidate) {
			c.Consent = true
			if c.Status == StatusContacted {
				c.Status = StatusConsentedPending
			}
		})

	case audit.QualificationDone:
		return e.update(p.CandidateID, func(c *Candidate) {
			c.Status = StatusDisqualified
			if p.Qualified {
				c.Status = StatusQualified
			}
		})

	case audit.ScheduleProposed:
		return e.update(p.CandidateID, func(c *Candidate) {
			c.Status = StatusScheduled
			c.JobID = firstNonEmpty(p.JobID, c.JobID)
			e.holds[c.ID] = Hold{CandidateID: c.ID, JobID: c.JobID, Slot: p.Slot, Status: HoldPending}
		})

	case audit.ScheduleConfirmed:
		return e.update(p.CandidateID, func(c *Candidate) {
			c.Status = StatusConfirmed
			c.JobID = firstNonEmpty(p.JobID, c.JobID)
			e.holds[c.ID] = Hold{CandidateID: c.ID, JobID: c.JobID, Slot: p.Slot, Status: HoldConfirmed}
		})
	}
	return nil
}

func (e *Engine) update(candidateID string, fn func(*Candidate)) error {
	c, ok := e.candidates[candidateID]
	if !ok {
		return fmt.Errorf("unknown candidate %q", candidateID)
	}
	fn(&c)
	e.candidates[candidateID] = c
	return nil
}

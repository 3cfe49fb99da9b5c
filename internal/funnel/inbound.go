package funnel

import (
	"context"
	"strings"
	"unicode"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/fault"
)

// HandleInbound processes a message received on a candidate channel.
//
// The sender is matched by phone. A matched sender is recorded as
// channel.inbound; an affirmative reply ("yes", any case) from a
// contacted candidate also captures consent. Unmatched senders are
// recorded as channel.inbound.unknown.
func (e *Engine) HandleInbound(ctx context.Context, from, body string) (InboundResult, error) {
	phone := normalizePhone(from)
	if phone == "" {
		return InboundResult{}, fault.Validation("inbound sender is required")
	}
	affirmative := isAffirmative(body)

	e.mu.RLock()
	candidateID, matched := e.phones[phone]
	e.mu.RUnlock()

	if !matched {
		return e.recordUnknown(ctx, phone, affirmative)
	}

	unlock := e.locks.Lock(candidateID)
	defer unlock()

	// The reservation belonged to an intake that failed to append.
	c, ok := e.Candidate(candidateID)
	if !ok {
		return e.recordUnknown(ctx, phone, affirmative)
	}
	if _, err := e.log.Append(ctx, audit.ActorCandidate, audit.ChannelInbound{
		CandidateID: c.ID,
		Affirmative: affirmative,
	}); err != nil {
		return InboundResult{}, err
	}

	result := InboundResult{Matched: true, CandidateID: c.ID, Affirmative: affirmative}
	if affirmative && c.Status == StatusContacted {
		if _, err := e.captureConsentLocked(ctx, c.ID, "inbound", audit.ActorCandidate); err != nil {
			return result, err
		}
		result.ConsentCaptured = true
	}
	return result, nil
}

func (e *Engine) recordUnknown(ctx context.Context, phone string, affirmative bool) (InboundResult, error) {
	if _, err := e.log.Append(ctx, audit.ActorCandidate, audit.InboundUnknown{From: phone}); err != nil {
		return InboundResult{}, err
	}
	e.logger.Info("inbound from unknown sender", "from", phone)
	return InboundResult{Affirmative: affirmative}, nil
}

// isAffirmative reports whether body contains the word "yes" in any case.
func isAffirmative(body string) bool {
	words := strings.FieldsFunc(body, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if strings.EqualFold(w, "yes") {
			return true
		}
	}
	return false
}

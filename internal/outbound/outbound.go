// Package outbound sends candidate messages under policy enforcement.
//
// Every send is evaluated against the active rule set. A failing decision
// blocks the send and appends message.blocked, unless the dispatcher runs
// in permissive mode, in which case the message goes out and the
// message.sent event records override=true alongside the failed checks.
// The provider call runs outside every lock.
package outbound

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/policy"
)

// Message is an outbound message request.
type Message struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Locale  string `json:"locale"`
	Channel string `json:"channel"`
}

// Result describes a completed send.
type Result struct {
	ProviderID string          `json:"providerId"`
	Decision   policy.Decision `json:"policy"`
	Override   bool            `json:"override"`
}

// Dispatcher evaluates, enforces and sends.
//
// asked counts questions already sent per recipient. Questions are
// reserved when a send is admitted and released if the provider fails.
type Dispatcher struct {
	evaluator  *policy.Evaluator
	sender     Sender
	log        *audit.Log
	permissive bool
	logger     *slog.Logger

	mu    sync.Mutex
	asked map[string]int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPermissive lets messages that fail policy go out anyway. The
// override is recorded on every such event.
func WithPermissive(permissive bool) Option {
	return func(d *Dispatcher) { d.permissive = permissive }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(evaluator *policy.Evaluator, sender Sender, log *audit.Log, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		evaluator: evaluator,
		sender:    sender,
		log:       log,
		logger:    slog.Default(),
		asked:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Permissive reports whether policy failures are overridden.
func (d *Dispatcher) Permissive() bool {
	return d.permissive
}

// Send evaluates msg, enforces the decision and delivers it.
//
// A blocked message returns a VALIDATION error whose details carry the
// checks. A provider failure appends message.error and returns an
// EXTERNAL_DEPENDENCY error.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return Result{}, fault.Validation("message recipient is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Result{}, fault.Validation("message body is required")
	}
	if msg.Channel == "" {
		msg.Channel = "sms"
	}
	if msg.Locale == "" {
		msg.Locale = "en"
	}
	questions := policy.CountQuestions(msg.Body)

	d.mu.Lock()
	decision := d.evaluator.Evaluate(policy.Request{
		Channel:        msg.Channel,
		To:             msg.To,
		Body:           msg.Body,
		QuestionsAsked: d.asked[msg.To],
	})
	admitted := decision.OK || d.permissive
	if admitted {
		d.asked[msg.To] += questions
	}
	d.mu.Unlock()

	checks := auditChecks(decision.Checks)
	if !admitted {
		if _, err := d.log.Append(ctx, audit.ActorAgent, audit.MessageBlocked{
			To:      msg.To,
			Channel: msg.Channel,
			Checks:  checks,
		}); err != nil {
			return Result{}, err
		}
		d.logger.Info("message blocked by policy", "to", msg.To, "failed", decision.Failed())
		return Result{Decision: decision}, fault.Validation("message blocked by policy: %s", strings.Join(decision.Failed(), ", ")).
			WithDetail("checks", decision.Checks)
	}

	providerID, err := d.sender.Send(ctx, msg)
	if err != nil {
		d.mu.Lock()
		d.asked[msg.To] -= questions
		d.mu.Unlock()

		if _, appendErr := d.log.Append(context.WithoutCancel(ctx), audit.ActorAgent, audit.MessageError{
			To:      msg.To,
			Channel: msg.Channel,
			Message: err.Error(),
		}); appendErr != nil {
			return Result{}, appendErr
		}
		d.logger.Warn("message send failed", "to", msg.To, "channel", msg.Channel, "error", err)
		return Result{Decision: decision}, fault.External("channel", err)
	}

	override := !decision.OK
	if _, err := d.log.Append(ctx, audit.ActorAgent, audit.MessageSent{
		To:         msg.To,
		Channel:    msg.Channel,
		Locale:     msg.Locale,
		ProviderID: providerID,
		Questions:  questions,
		PolicyOK:   decision.OK,
		Override:   override,
		Checks:     checks,
	}); err != nil {
		return Result{}, err
	}
	if override {
		d.logger.Warn("message sent despite failed policy checks", "to", msg.To, "failed", decision.Failed())
	}
	return Result{ProviderID: providerID, Decision: decision, Override: override}, nil
}

// Restore rebuilds per-recipient question counts from message.sent events.
func (d *Dispatcher) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for entry, err := range d.log.Scan(ctx, 0) {
		if err != nil {
			return err
		}
		if entry.Event.Action != audit.ActionMessageSent {
			continue
		}
		p, err := audit.DecodePayload(entry.Event.Action, entry.Event.Payload)
		if err != nil {
			return err
		}
		sent := p.(audit.MessageSent)
		d.asked[sent.To] += sent.Questions
	}
	return nil
}

// Asked returns the number of questions sent to a recipient.
func (d *Dispatcher) Asked(to string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asked[to]
}

func auditChecks(checks []policy.Check) []audit.PolicyCheck {
	out := make([]audit.PolicyCheck, len(checks))
	for i, c := range checks {
		out[i] = audit.PolicyCheck{Rule: c.Rule, OK: c.OK}
	}
	return out
}

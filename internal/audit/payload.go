package audit

import (
	"sort"
	"strings"

	"github.com/roach88/recruitflow/internal/canonical"
	"github.com/roach88/recruitflow/internal/fault"
)

// Action names. The set is closed: Append rejects anything else.
const (
	ActionJobCreated         = "job.created"
	ActionCandidateCreated   = "candidate.created"
	ActionOutreachSent       = "outreach.sent"
	ActionTranslationApplied = "translation.applied"
	ActionConsentCaptured    = "consent.captured"
	ActionQualificationDone  = "qualification.done"
	ActionScheduleProposed   = "schedule.proposed"
	ActionScheduleConfirmed  = "schedule.confirmed"
	ActionATSWrite           = "ats.write"
	ActionATSError           = "ats.error"
	ActionMessageSent        = "message.sent"
	ActionMessageBlocked     = "message.blocked"
	ActionMessageError       = "message.error"
	ActionChannelInbound     = "channel.inbound"
	ActionInboundUnknown     = "channel.inbound.unknown"
)

// Payload is a typed event body. Each variant names its action and checks
// its own required fields.
type Payload interface {
	Action() string
	validate() error
}

// JobCreated records a new job opening.
type JobCreated struct {
	JobID        string   `json:"jobId"`
	Title        string   `json:"title,omitempty"`
	Location     string   `json:"location,omitempty"`
	Shift        string   `json:"shift,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// CandidateCreated records candidate intake.
type CandidateCreated struct {
	CandidateID string `json:"candidateId"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Locale      string `json:"locale,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	Consent     bool   `json:"consent"`
	Status      string `json:"status,omitempty"`
}

// OutreachSent records a first-touch message about a job. CostMicros is
// the provider cost in millionths of a currency unit.
type OutreachSent struct {
	JobID       string `json:"jobId"`
	CandidateID string `json:"candidateId"`
	Locale      string `json:"locale,omitempty"`
	Channel     string `json:"channel,omitempty"`
	CostMicros  int64  `json:"costMicros,omitempty"`
}

// TranslationApplied records that outreach was translated for the
// candidate locale.
type TranslationApplied struct {
	CandidateID string `json:"candidateId"`
	Direction   string `json:"direction"`
	Provider    string `json:"provider,omitempty"`
}

// ConsentCaptured records candidate consent and where it came from
// (agent, inbound).
type ConsentCaptured struct {
	CandidateID string `json:"candidateId"`
	Source      string `json:"source,omitempty"`
}

// QualificationDone records the knockout result.
type QualificationDone struct {
	CandidateID string `json:"candidateId"`
	Qualified   bool   `json:"qualified"`
}

// ScheduleProposed records a held interview slot.
type ScheduleProposed struct {
	CandidateID string `json:"candidateId"`
	JobID       string `json:"jobId,omitempty"`
	Slot        string `json:"slot"`
}

// ScheduleConfirmed records a confirmed interview. Synthesized is set
// when no hold existed and the slot was allocated at confirm time.
type ScheduleConfirmed struct {
	CandidateID string `json:"candidateId"`
	JobID       string `json:"jobId,omitempty"`
	Slot        string `json:"slot"`
	Synthesized bool   `json:"synthesized"`
}

// ATSWrite records an application stored in the ATS.
type ATSWrite struct {
	CandidateID    string `json:"candidateId"`
	JobID          string `json:"jobId"`
	Slot           string `json:"slot"`
	ApplicationID  string `json:"applicationId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
	Deduplicated   bool   `json:"deduplicated,omitempty"`
}

// ATSError records an ATS sync that failed after all attempts.
type ATSError struct {
	CandidateID    string `json:"candidateId,omitempty"`
	JobID          string `json:"jobId,omitempty"`
	Slot           string `json:"slot,omitempty"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
}

// PolicyCheck is one evaluated rule recorded alongside a send.
type PolicyCheck struct {
	Rule string `json:"rule"`
	OK   bool   `json:"ok"`
}

// MessageSent records an outbound message handed to the provider.
// Override is set when the policy failed and the permissive mode let it
// through.
type MessageSent struct {
	To         string        `json:"to"`
	Channel    string        `json:"channel"`
	Locale     string        `json:"locale,omitempty"`
	ProviderID string        `json:"providerId,omitempty"`
	Questions  int           `json:"questions,omitempty"`
	PolicyOK   bool          `json:"policyOk"`
	Override   bool          `json:"override,omitempty"`
	Checks     []PolicyCheck `json:"checks,omitempty"`
}

// MessageBlocked records an outbound message stopped by policy.
type MessageBlocked struct {
	To      string        `json:"to"`
	Channel string        `json:"channel"`
	Checks  []PolicyCheck `json:"checks"`
}

// MessageError records a provider failure on send.
type MessageError struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// ChannelInbound records a reply from a known candidate.
type ChannelInbound struct {
	CandidateID string `json:"candidateId"`
	Affirmative bool   `json:"affirmative"`
}

// InboundUnknown records a reply from a number with no candidate.
type InboundUnknown struct {
	From string `json:"from"`
}

func (JobCreated) Action() string         { return ActionJobCreated }
func (CandidateCreated) Action() string   { return ActionCandidateCreated }
func (OutreachSent) Action() string       { return ActionOutreachSent }
func (TranslationApplied) Action() string { return ActionTranslationApplied }
func (ConsentCaptured) Action() string    { return ActionConsentCaptured }
func (QualificationDone) Action() string  { return ActionQualificationDone }
func (ScheduleProposed) Action() string   { return ActionScheduleProposed }
func (ScheduleConfirmed) Action() string  { return ActionScheduleConfirmed }
func (ATSWrite) Action() string           { return ActionATSWrite }
func (ATSError) Action() string           { return ActionATSError }
func (MessageSent) Action() string        { return ActionMessageSent }
func (MessageBlocked) Action() string     { return ActionMessageBlocked }
func (MessageError) Action() string       { return ActionMessageError }
func (ChannelInbound) Action() string     { return ActionChannelInbound }
func (InboundUnknown) Action() string     { return ActionInboundUnknown }

func (p JobCreated) validate() error { return required(p, "jobId", p.JobID) }
func (p CandidateCreated) validate() error {
	return required(p, "candidateId", p.CandidateID)
}
func (p OutreachSent) validate() error {
	return required(p, "jobId", p.JobID, "candidateId", p.CandidateID)
}
func (p TranslationApplied) validate() error {
	return required(p, "candidateId", p.CandidateID, "direction", p.Direction)
}
func (p ConsentCaptured) validate() error { return required(p, "candidateId", p.CandidateID) }
func (p QualificationDone) validate() error {
	return required(p, "candidateId", p.CandidateID)
}
func (p ScheduleProposed) validate() error {
	return required(p, "candidateId", p.CandidateID, "slot", p.Slot)
}
func (p ScheduleConfirmed) validate() error {
	return required(p, "candidateId", p.CandidateID, "slot", p.Slot)
}
func (p ATSWrite) validate() error {
	return required(p, "candidateId", p.CandidateID, "jobId", p.JobID, "slot", p.Slot)
}
func (p ATSError) validate() error { return required(p, "message", p.Message) }
func (p MessageSent) validate() error {
	return required(p, "to", p.To, "channel", p.Channel)
}
func (p MessageBlocked) validate() error {
	return required(p, "to", p.To, "channel", p.Channel)
}
func (p MessageError) validate() error {
	return required(p, "to", p.To, "channel", p.Channel, "message", p.Message)
}
func (p ChannelInbound) validate() error { return required(p, "candidateId", p.CandidateID) }
func (p InboundUnknown) validate() error { return required(p, "from", p.From) }

// required checks name/value pairs for blank values.
func required(p Payload, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fault.Validation("%s: missing required field %q", p.Action(), pairs[i])
		}
	}
	return nil
}

type decoder func(canonical.Object) (Payload, error)

func decodeAs[T Payload](obj canonical.Object) (Payload, error) {
	var p T
	if err := canonical.Decode(obj, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var registry = map[string]decoder{
	ActionJobCreated:         decodeAs[JobCreated],
	ActionCandidateCreated:   decodeAs[CandidateCreated],
	ActionOutreachSent:       decodeAs[OutreachSent],
	ActionTranslationApplied: decodeAs[TranslationApplied],
	ActionConsentCaptured:    decodeAs[ConsentCaptured],
	ActionQualificationDone:  decodeAs[QualificationDone],
	ActionScheduleProposed:   decodeAs[ScheduleProposed],
	ActionScheduleConfirmed:  decodeAs[ScheduleConfirmed],
	ActionATSWrite:           decodeAs[ATSWrite],
	ActionATSError:           decodeAs[ATSError],
	ActionMessageSent:        decodeAs[MessageSent],
	ActionMessageBlocked:     decodeAs[MessageBlocked],
	ActionMessageError:       decodeAs[MessageError],
	ActionChannelInbound:     decodeAs[ChannelInbound],
	ActionInboundUnknown:     decodeAs[InboundUnknown],
}

// Actions returns every known action name, sorted.
func Actions() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EncodePayload validates p and converts it to a canonical object.
func EncodePayload(p Payload) (canonical.Object, error) {
	if p == nil {
		return nil, fault.Validation("payload is required")
	}
	if _, ok := registry[p.Action()]; !ok {
		return nil, fault.Validation("unknown action %q", p.Action())
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	obj, err := canonical.ObjectOf(p)
	if err != nil {
		return nil, fault.Validation("%s: %v", p.Action(), err)
	}
	return obj, nil
}

// DecodePayload converts a stored payload back into its typed variant.
// Unknown actions, unknown fields and missing required fields are
// validation errors.
func DecodePayload(action string, obj canonical.Object) (Payload, error) {
	dec, ok := registry[action]
	if !ok {
		return nil, fault.Validation("unknown action %q", action)
	}
	p, err := dec(obj)
	if err != nil {
		return nil, &fault.Error{Code: fault.CodeValidation, Message: action + ": invalid payload", Err: err}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

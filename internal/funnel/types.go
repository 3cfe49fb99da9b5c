package funnel

// Status is a candidate's position in the funnel.
type Status string

const (
	StatusNew              Status = "new"
	StatusContacted        Status = "contacted"
	StatusConsentedPending Status = "consented-pending"
	StatusQualified        Status = "qualified"
	StatusDisqualified     Status = "disqualified"
	StatusScheduled        Status = "scheduled"
	StatusConfirmed        Status = "confirmed"
)

// Statuses lists every status in funnel order.
func Statuses() []Status {
	return []Status{
		StatusNew,
		StatusContacted,
		StatusConsentedPending,
		StatusQualified,
		StatusDisqualified,
		StatusScheduled,
		StatusConfirmed,
	}
}

// Candidate is a person moving through the funnel.
type Candidate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Locale  string `json:"locale"`
	JobID   string `json:"jobId,omitempty"`
	Consent bool   `json:"consent"`
	Status  Status `json:"status"`
}

// Job is an open position. Immutable after creation.
type Job struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Location     string   `json:"location"`
	Shift        string   `json:"shift"`
	Requirements []string `json:"requirements"`
}

// HoldStatus is the state of a schedule hold.
type HoldStatus string

const (
	HoldPending   HoldStatus = "hold"
	HoldConfirmed HoldStatus = "confirmed"
)

// Hold is the single schedule slot held for a candidate.
type Hold struct {
	CandidateID string     `json:"candidateId"`
	JobID       string     `json:"jobId"`
	Slot        string     `json:"slot"`
	Status      HoldStatus `json:"status"`
}

// JobInput creates a job.
type JobInput struct {
	Title        string   `json:"title"`
	Location     string   `json:"location"`
	Shift        string   `json:"shift"`
	Requirements []string `json:"requirements"`
}

// CandidateInput registers a candidate at intake.
type CandidateInput struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Locale string `json:"locale"`
	JobID  string `json:"jobId"`
}

// OutreachInput records a first-touch message.
type OutreachInput struct {
	JobID   string `json:"jobId"`
	Channel string `json:"channel"`
}

// Confirmation is the result of confirming a schedule.
//
// The confirmation itself always succeeded when Confirm returns a nil
// error. SyncErr carries a failed ATS write; local state stays confirmed.
type Confirmation struct {
	Candidate     Candidate `json:"candidate"`
	JobID         string    `json:"jobId"`
	Slot          string    `json:"slot"`
	Synthesized   bool      `json:"synthesized"`
	ApplicationID string    `json:"applicationId,omitempty"`
	SyncError     string    `json:"syncError,omitempty"`
	SyncErr       error     `json:"-"`
}

// Synced reports whether the ATS write succeeded.
func (c Confirmation) Synced() bool {
	return c.SyncErr == nil
}

// InboundResult describes how an inbound message was handled.
type InboundResult struct {
	Matched         bool   `json:"matched"`
	CandidateID     string `json:"candidateId,omitempty"`
	Affirmative     bool   `json:"affirmative"`
	ConsentCaptured bool   `json:"consentCaptured"`
}

// Stats counts candidates per status.
type Stats struct {
	Jobs       int            `json:"jobs"`
	Candidates int            `json:"candidates"`
	ByStatus   map[Status]int `json:"byStatus"`
	Consented  int            `json:"consented"`
}

package harness

import "github.com/roach88/recruitflow/internal/canonical"

// TraceEvent is one audit event in a scenario trace.
type TraceEvent struct {
	Seq     int              `json:"seq"`
	Actor   string           `json:"actor"`
	Action  string           `json:"action"`
	Payload canonical.Object `json:"payload"`
}

// Outcome records how one flow step completed.
type Outcome struct {
	Step   int              `json:"step"`
	Invoke string           `json:"invoke"`
	Case   string           `json:"case"`
	Result canonical.Object `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace is the audit log after the run, in append order.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds one entry per flow step.
	Outcomes []Outcome `json:"outcomes"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final candidates, jobs and holds as JSON objects.
	State map[string][]canonical.Object `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Outcomes: []Outcome{},
		Errors:   []string{},
		State:    make(map[string][]canonical.Object),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

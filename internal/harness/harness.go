package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/canonical"
	"github.com/roach88/recruitflow/internal/clock"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/funnel"
	"github.com/roach88/recruitflow/internal/ident"
	"github.com/roach88/recruitflow/internal/outbound"
	"github.com/roach88/recruitflow/internal/policy"
	"github.com/roach88/recruitflow/internal/store"
)

// Outcome cases. They mirror the fault codes; Success means no error.
const (
	CaseSuccess            = "Success"
	CaseValidation         = "Validation"
	CaseNotFound           = "NotFound"
	CaseExternalDependency = "ExternalDependency"
	CaseIntegrity          = "Integrity"
	CaseInternal           = "Internal"
)

// DefaultSlot is the slot every proposal gets unless the scenario sets one.
const DefaultSlot = "2025-08-29T03:00:00Z"

// Epoch is the first audit timestamp of every run. Each event is one
// millisecond after the previous one.
var Epoch = time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)

func knownCase(c string) bool {
	switch c {
	case CaseSuccess, CaseValidation, CaseNotFound, CaseExternalDependency, CaseIntegrity, CaseInternal:
		return true
	}
	return false
}

func caseOf(err error) string {
	if err == nil {
		return CaseSuccess
	}
	switch fault.CodeOf(err) {
	case fault.CodeValidation:
		return CaseValidation
	case fault.CodeNotFound:
		return CaseNotFound
	case fault.CodeExternal:
		return CaseExternalDependency
	case fault.CodeIntegrity:
		return CaseIntegrity
	}
	return CaseInternal
}

// stubATS hands out A1, A2, ... or fails every call with a 503.
type stubATS struct {
	ids  ident.Generator
	fail bool
}

func (s stubATS) CreateApplication(ctx context.Context, app atssync.Application, key string) (string, error) {
	if s.fail {
		return "", &atssync.StatusError{StatusCode: 503, Body: "ats unavailable"}
	}
	return s.ids.Generate(), nil
}

// Harness wires a complete funnel over an in-memory store.
type Harness struct {
	store      *store.Store
	log        *audit.Log
	engine     *funnel.Engine
	dispatcher *outbound.Dispatcher
	logger     *slog.Logger
}

// newHarness builds the stack for one scenario.
func newHarness(ctx context.Context, cfg Config) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewStepping(Epoch, time.Millisecond)

	log, err := audit.Open(ctx, st, audit.DefaultSecret,
		audit.WithClock(clk),
		audit.WithIDs(ident.NewSequence("E")),
		audit.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	adapter := atssync.New(stubATS{ids: ident.NewSequence("A"), fail: cfg.ATS == "fail"}, log,
		atssync.WithLedger(st),
		atssync.WithClock(clk),
		atssync.WithBackoff(0),
		atssync.WithLogger(logger),
	)

	qualified := true
	if cfg.Qualify != nil {
		qualified = *cfg.Qualify
	}
	slot := cfg.Slot
	if slot == "" {
		slot = DefaultSlot
	}
	eng := funnel.New(log, adapter,
		funnel.WithJobIDs(ident.NewSequence("J")),
		funnel.WithCandidateIDs(ident.NewSequence("C")),
		funnel.WithQualification(funnel.QualifyFunc(func(string) bool { return qualified })),
		funnel.WithSlots(funnel.SlotFunc(func(string) string { return slot })),
		funnel.WithRequireHold(cfg.RequireHold),
		funnel.WithLogger(logger),
	)

	rules := policy.Default()
	if cfg.Policy != nil {
		rules = policy.RuleSet{
			AllowedChannels: cfg.Policy.AllowedChannels,
			MaxQuestions:    cfg.Policy.MaxQuestions,
		}
	}
	dispatcher := outbound.NewDispatcher(policy.NewEvaluator(rules),
		outbound.MockSender{IDs: ident.NewSequence("M")}, log,
		outbound.WithPermissive(cfg.Permissive),
		outbound.WithLogger(logger),
	)

	return &Harness{
		store:      st,
		log:        log,
		engine:     eng,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Close releases the in-memory store.
func (h *Harness) Close() error {
	return h.store.Close()
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Build the funnel, policy and ATS stack from scenario.Config
//  2. Execute setup steps (each must succeed)
//  3. Execute flow steps and compare each outcome with its expect clause
//  4. Collect the audit trace and final state
//  5. Evaluate assertions
//
// The returned error is reserved for harness failures (bad args, failed
// setup); a failed expectation is reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario.Config)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	verify, err := h.log.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, verify) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs all setup steps. Setup establishes state, so any
// failure aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep) error {
	for i, step := range setup {
		if _, err := h.invoke(ctx, step.Action, step.Args); err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		h.logger.Info("setup step completed", "step", i, "action", step.Action)
	}
	return nil
}

// executeFlow runs every flow step and validates expect clauses. A step
// without expect must succeed.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		out, err := h.invoke(ctx, step.Invoke, step.Args)
		var argErr *argError
		if errors.As(err, &argErr) {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		outcome := Outcome{Step: i, Invoke: step.Invoke, Case: caseOf(err), Result: out}
		if err != nil {
			outcome.Error = err.Error()
		}
		result.Outcomes = append(result.Outcomes, outcome)

		expected := CaseSuccess
		if step.Expect != nil {
			expected = step.Expect.Case
		}
		if outcome.Case != expected {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s (%s)",
				i, step.Invoke, expected, outcome.Case, outcome.Error))
			continue
		}
		if step.Expect != nil && len(step.Expect.Result) > 0 {
			want, err := canonical.FromGo(step.Expect.Result)
			if err != nil {
				return fmt.Errorf("flow step %d: expected result: %w", i, err)
			}
			if !containsValue(out, want) {
				result.AddError(fmt.Sprintf("flow[%d] %s: result %s does not contain %s",
					i, step.Invoke, render(out), render(want)))
			}
		}

		h.logger.Info("flow step completed", "step", i, "action", step.Invoke, "output_case", outcome.Case)
	}
	return nil
}

// collect reads the audit trace and the engine's final state into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for entry, err := range h.log.Scan(ctx, 0) {
		if err != nil {
			return fmt.Errorf("read trace: %w", err)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Seq:     entry.Index,
			Actor:   string(entry.Event.Actor),
			Action:  entry.Event.Action,
			Payload: entry.Event.Payload,
		})
	}

	candidates := h.engine.Candidates()
	result.State[TableCandidates] = []canonical.Object{}
	result.State[TableHolds] = []canonical.Object{}
	for _, c := range candidates {
		obj, err := canonical.ObjectOf(c)
		if err != nil {
			return err
		}
		result.State[TableCandidates] = append(result.State[TableCandidates], obj)
		if hold, ok := h.engine.Hold(c.ID); ok {
			obj, err := canonical.ObjectOf(hold)
			if err != nil {
				return err
			}
			result.State[TableHolds] = append(result.State[TableHolds], obj)
		}
	}
	result.State[TableJobs] = []canonical.Object{}
	for _, j := range h.engine.Jobs() {
		obj, err := canonical.ObjectOf(j)
		if err != nil {
			return err
		}
		result.State[TableJobs] = append(result.State[TableJobs], obj)
	}
	return nil
}

// argError marks scenario args that could not be bound to an action's
// input. It is a scenario bug, not an action outcome.
type argError struct {
	action string
	err    error
}

func (e *argError) Error() string {
	return fmt.Sprintf("%s: bad args: %v", e.action, e.err)
}

func (e *argError) Unwrap() error { return e.err }

// candidateArgs carries the candidate id for candidate operations.
type candidateArgs struct {
	ID string `json:"id"`
}

var actions = map[string]func(ctx context.Context, h *Harness, args []byte) (any, error){
	"Funnel.createJob": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in funnel.JobInput
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.CreateJob(ctx, in)
	},
	"Funnel.intake": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in funnel.CandidateInput
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.Intake(ctx, in)
	},
	"Funnel.outreach": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in struct {
			candidateArgs
			funnel.OutreachInput
		}
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.RecordOutreach(ctx, in.ID, in.OutreachInput)
	},
	"Funnel.consent": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in struct {
			candidateArgs
			Source string `json:"source"`
		}
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.CaptureConsent(ctx, in.ID, in.Source)
	},
	"Funnel.qualify": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in candidateArgs
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.Qualify(ctx, in.ID)
	},
	"Funnel.propose": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in struct {
			candidateArgs
			JobID string `json:"jobId"`
		}
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.Propose(ctx, in.ID, in.JobID)
	},
	"Funnel.confirm": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in candidateArgs
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		conf, err := h.engine.Confirm(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		return struct {
			funnel.Confirmation
			Synced bool `json:"synced"`
		}{conf, conf.Synced()}, nil
	},
	"Funnel.inbound": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var in struct {
			From string `json:"from"`
			Body string `json:"body"`
		}
		if err := bind(args, &in); err != nil {
			return nil, err
		}
		return h.engine.HandleInbound(ctx, in.From, in.Body)
	},
	"Outbound.send": func(ctx context.Context, h *Harness, args []byte) (any, error) {
		var msg outbound.Message
		if err := bind(args, &msg); err != nil {
			return nil, err
		}
		return h.dispatcher.Send(ctx, msg)
	},
}

func knownAction(name string) bool {
	_, ok := actions[name]
	return ok
}

// invoke runs one action and returns its result as a canonical object.
// Actions that fail return a nil object.
func (h *Harness) invoke(ctx context.Context, action string, args map[string]interface{}) (canonical.Object, error) {
	fn, ok := actions[action]
	if !ok {
		return nil, &argError{action: action, err: fmt.Errorf("unknown action")}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, &argError{action: action, err: err}
	}

	out, err := fn(ctx, h, data)
	if err != nil {
		if be, bad := err.(bindError); bad {
			return nil, &argError{action: action, err: be.error}
		}
		return nil, err
	}
	obj, err := canonical.ObjectOf(out)
	if err != nil {
		return nil, fmt.Errorf("%s: encode result: %w", action, err)
	}
	return obj, nil
}

// bindError wraps a failure to decode scenario args.
type bindError struct{ error }

// bind decodes JSON args into v, rejecting fields v does not declare.
func bind(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return bindError{err}
	}
	return nil
}

// containsValue reports whether want is a subset of got: objects match
// when every key in want matches in got, everything else must be equal.
func containsValue(got, want canonical.Value) bool {
	wantObj, ok := want.(canonical.Object)
	if !ok {
		return canonicalEqual(got, want)
	}
	gotObj, ok := got.(canonical.Object)
	if !ok {
		return false
	}
	for key, w := range wantObj {
		g, exists := gotObj[key]
		if !exists || !containsValue(g, w) {
			return false
		}
	}
	return true
}

func canonicalEqual(a, b canonical.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, err := canonical.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := canonical.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func render(v canonical.Value) string {
	if v == nil {
		return "<none>"
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

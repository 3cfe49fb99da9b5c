package funnel

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/ident"
)

// Outreach cost in micro-dollars per message, plus a surcharge when the
// message is translated.
const (
	outreachCostMicros    = 20_000
	translationCostMicros = 1_000
)

// Syncer writes a confirmed placement to the ATS. Implemented by
// *atssync.Adapter.
type Syncer interface {
	Sync(ctx context.Context, app atssync.Application) (atssync.Ref, error)
}

// Engine owns job, candidate and hold state.
//
// Thread-safety model:
//   - mu guards the maps; it is held only to read or commit a value
//   - locks serializes transitions per candidate id
//   - audit appends happen under the candidate lock, before commit
//   - the ATS sync runs with no lock held
type Engine struct {
	log    *audit.Log
	syncer Syncer

	mu         sync.RWMutex
	jobs       map[string]Job
	candidates map[string]Candidate
	holds      map[string]Hold
	phones     map[string]string // normalized phone -> candidate id

	locks *keyedMutex

	qualify      QualificationPolicy
	slots        SlotAllocator
	jobIDs       ident.Generator
	candidateIDs ident.Generator
	requireHold  bool
	translator   string
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithQualification sets the qualification policy.
func WithQualification(p QualificationPolicy) Option {
	return func(e *Engine) { e.qualify = p }
}

// WithSlots sets the slot allocator.
func WithSlots(s SlotAllocator) Option {
	return func(e *Engine) { e.slots = s }
}

// WithJobIDs sets the job id generator.
func WithJobIDs(g ident.Generator) Option {
	return func(e *Engine) { e.jobIDs = g }
}

// WithCandidateIDs sets the candidate id generator.
func WithCandidateIDs(g ident.Generator) Option {
	return func(e *Engine) { e.candidateIDs = g }
}

// WithRequireHold makes Confirm fail when no hold was proposed instead of
// synthesizing a slot.
func WithRequireHold(require bool) Option {
	return func(e *Engine) { e.requireHold = require }
}

// WithTranslationProvider names the provider recorded in
// translation.applied events.
func WithTranslationProvider(name string) Option {
	return func(e *Engine) { e.translator = name }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine that records to log and syncs through syncer.
// Without WithSlots, slots fall on the day after the engine was created,
// so allocation is only stable within one process.
func New(log *audit.Log, syncer Syncer, opts ...Option) *Engine {
	e := &Engine{
		log:          log,
		syncer:       syncer,
		jobs:         make(map[string]Job),
		candidates:   make(map[string]Candidate),
		holds:        make(map[string]Hold),
		phones:       make(map[string]string),
		locks:        newKeyedMutex(),
		qualify:      HashQualification{},
		slots:        NewHashSlots(time.Now().AddDate(0, 0, 1)),
		jobIDs:       ident.UUIDv7{},
		candidateIDs: ident.UUIDv7{},
		translator:   "mock",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateJob registers a job and appends job.created.
func (e *Engine) CreateJob(ctx context.Context, in JobInput) (Job, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Job{}, fault.Validation("job title is required")
	}
	job := Job{
		ID:           e.jobIDs.Generate(),
		Title:        in.Title,
		Location:     in.Location,
		Shift:        in.Shift,
		Requirements: slices.Clone(in.Requirements),
	}
	if job.Requirements == nil {
		job.Requirements = []string{}
	}

	if _, err := e.log.Append(ctx, audit.ActorSystem, audit.JobCreated{
		JobID:        job.ID,
		Title:        job.Title,
		Location:     job.Location,
		Shift:        job.Shift,
		Requirements: job.Requirements,
	}); err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	e.logger.Info("job created", "job_id", job.ID, "title", job.Title)
	return job, nil
}

// Intake registers a candidate. Intake is the first touch, so the new
// candidate is recorded as contacted.
func (e *Engine) Intake(ctx context.Context, in CandidateInput) (Candidate, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Candidate{}, fault.Validation("candidate name is required")
	}
	phone := normalizePhone(in.Phone)
	if phone == "" {
		return Candidate{}, fault.Validation("candidate phone is required")
	}
	locale, err := normalizeLocale(in.Locale)
	if err != nil {
		return Candidate{}, err
	}
	if in.JobID != "" {
		if _, ok := e.job(in.JobID); !ok {
			return Candidate{}, fault.NotFound("job", in.JobID)
		}
	}

	// Reserve the phone before appending so two intakes for the same
	// number cannot both succeed. The candidate lock is held from the
	// reservation through commit, so an inbound reply matched by phone
	// waits for the candidate to exist.
	id := e.candidateIDs.Generate()
	unlock := e.locks.Lock(id)
	defer unlock()
	e.mu.Lock()
	if owner, taken := e.phones[phone]; taken {
		e.mu.Unlock()
		return Candidate{}, fault.Validation("phone already registered to candidate %s", owner)
	}
	e.phones[phone] = id
	e.mu.Unlock()

	c := Candidate{
		ID:     id,
		Name:   in.Name,
		Phone:  phone,
		Locale: locale,
		JobID:  in.JobID,
		Status: StatusContacted,
	}
	if _, err := e.log.Append(ctx, audit.ActorSystem, audit.CandidateCreated{
		CandidateID: c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		Locale:      c.Locale,
		JobID:       c.JobID,
		Consent:     c.Consent,
		Status:      string(c.Status),
	}); err != nil {
		e.mu.Lock()
		delete(e.phones, phone)
		e.mu.Unlock()
		return Candidate{}, err
	}

	e.commit(c)
	e.logger.Info("candidate intake", "candidate_id", c.ID, "locale", c.Locale)
	return c, nil
}

// RecordOutreach records a first-touch message to a contacted candidate.
// Non-English candidates also get a translation.applied event.
func (e *Engine) RecordOutreach(ctx context.Context, candidateID string, in OutreachInput) (Candidate, error) {
	unlock := e.locks.Lock(candidateID)
	defer unlock()

	c, err := e.candidateFor(candidateID, "outreach", StatusContacted)
	if err != nil {
		return Candidate{}, err
	}
	jobID := firstNonEmpty(in.JobID, c.JobID)
	if jobID == "" {
		return Candidate{}, fault.Validation("outreach requires a job id")
	}
	if _, ok := e.job(jobID); !ok {
		return Candidate{}, fault.NotFound("job", jobID)
	}
	channel := firstNonEmpty(in.Channel, "sms")

	translated := !isEnglish(c.Locale)
	cost := int64(outreachCostMicros)
	if translated {
		cost += translationCostMicros
	}

	if _, err := e.log.Append(ctx, audit.ActorAgent, audit.OutreachSent{
		JobID:       jobID,
		CandidateID: c.ID,
		Locale:      c.Locale,
		Channel:     channel,
		CostMicros:  cost,
	}); err != nil {
		return Candidate{}, err
	}
	if c.JobID == "" {
		c.JobID = jobID
		e.commit(c)
	}

	if translated {
		if _, err := e.log.Append(ctx, audit.ActorAgent, audit.TranslationApplied{
			CandidateID: c.ID,
			Direction:   "en->" + c.Locale,
			Provider:    e.translator,
		}); err != nil {
			return Candidate{}, err
		}
	}
	return c, nil
}

// CaptureConsent moves a contacted candidate to consented-pending.
func (e *Engine) CaptureConsent(ctx context.Context, candidateID, source string) (Candidate, error) {
	unlock := e.locks.Lock(candidateID)
	defer unlock()
	return e.captureConsentLocked(ctx, candidateID, source, audit.ActorAgent)
}

func (e *Engine) captureConsentLocked(ctx context.Context, candidateID, source string, actor audit.Actor) (Candidate, error) {
	c, err := e.candidateFor(candidateID, "consent", StatusContacted)
	if err != nil {
		return Candidate{}, err
	}
	if _, err := e.log.Append(ctx, actor, audit.ConsentCaptured{
		CandidateID: c.ID,
		Source:      source,
	}); err != nil {
		return Candidate{}, err
	}
	c.Consent = true
	c.Status = StatusConsentedPending
	e.commit(c)
	return c, nil
}

// Qualify runs the qualification policy on a consented candidate.
func (e *Engine) Qualify(ctx context.Context, candidateID string) (Candidate, error) {
	unlock := e.locks.Lock(candidateID)
	defer unlock()

	c, err := e.candidateFor(candidateID, "qualify", StatusConsentedPending)
	if err != nil {
		return Candidate{}, err
	}
	qualified := e.qualify.Qualify(c.ID)
	if _, err := e.log.Append(ctx, audit.ActorAgent, audit.QualificationDone{
		CandidateID: c.ID,
		Qualified:   qualified,
	}); err != nil {
		return Candidate{}, err
	}
	c.Status = StatusDisqualified
	if qualified {
		c.Status = StatusQualified
	}
	e.commit(c)
	return c, nil
}

// Propose holds a slot for a qualified candidate. Proposing again while a
// hold exists replaces it. jobID may be empty when the candidate already
// has a job.
func (e *Engine) Propose(ctx context.Context, candidateID, jobID string) (Hold, error) {
	unlock := e.locks.Lock(candidateID)
	defer unlock()

	c, err := e.candidateFor(candidateID, "propose", StatusQualified, StatusScheduled)
	if err != nil {
		return Hold{}, err
	}
	if c.Status == StatusScheduled {
		if h, ok := e.Hold(c.ID); !ok || h.Status != HoldPending {
			return Hold{}, invalidTransition(c, "propose")
		}
	}
	jobID, err = e.resolveJob(c, jobID)
	if err != nil {
		return Hold{}, err
	}

	hold := Hold{
		CandidateID: c.ID,
		JobID:       jobID,
		Slot:        e.slots.Allocate(c.ID),
		Status:      HoldPending,
	}
	if _, err := e.log.Append(ctx, audit.ActorAgent, audit.ScheduleProposed{
		CandidateID: c.ID,
		JobID:       hold.JobID,
		Slot:        hold.Slot,
	}); err != nil {
		return Hold{}, err
	}

	c.Status = StatusScheduled
	c.JobID = jobID
	e.mu.Lock()
	e.candidates[c.ID] = c
	e.holds[c.ID] = hold
	e.mu.Unlock()
	return hold, nil
}

// Confirm promotes the candidate's hold to confirmed and syncs the
// placement to the ATS.
//
// A qualified candidate with no hold gets a slot from the allocator and
// the event is marked synthesized, unless the engine requires a hold.
// The ATS outcome is reported in the Confirmation; a failed sync does not
// make Confirm fail.
func (e *Engine) Confirm(ctx context.Context, candidateID string) (Confirmation, error) {
	conf, err := e.confirmLocked(ctx, candidateID)
	if err != nil {
		return Confirmation{}, err
	}

	ref, err := e.syncer.Sync(ctx, atssync.Application{
		CandidateID: conf.Candidate.ID,
		JobID:       conf.JobID,
		Slot:        conf.Slot,
	})
	if err != nil {
		conf.SyncErr = err
		conf.SyncError = err.Error()
		return conf, nil
	}
	conf.ApplicationID = ref.ApplicationID
	return conf, nil
}

func (e *Engine) confirmLocked(ctx context.Context, candidateID string) (Confirmation, error) {
	unlock := e.locks.Lock(candidateID)
	defer unlock()

	c, err := e.candidateFor(candidateID, "confirm", StatusQualified, StatusScheduled)
	if err != nil {
		return Confirmation{}, err
	}

	hold, hasHold := e.Hold(c.ID)
	synthesized := false
	switch {
	case c.Status == StatusScheduled && hasHold && hold.Status == HoldPending:
	case c.Status == StatusQualified && e.requireHold:
		return Confirmation{}, fault.Validation("candidate %s has no schedule hold to confirm", c.ID).
			WithDetail("candidateId", c.ID)
	case c.Status == StatusQualified:
		jobID, err := e.resolveJob(c, "")
		if err != nil {
			return Confirmation{}, err
		}
		hold = Hold{CandidateID: c.ID, JobID: jobID, Slot: e.slots.Allocate(c.ID)}
		synthesized = true
		e.logger.Warn("confirming schedule without a proposed hold",
			"candidate_id", c.ID,
			"slot", hold.Slot,
		)
	default:
		return Confirmation{}, invalidTransition(c, "confirm")
	}

	if _, err := e.log.Append(ctx, audit.ActorAgent, audit.ScheduleConfirmed{
		CandidateID: c.ID,
		JobID:       hold.JobID,
		Slot:        hold.Slot,
		Synthesized: synthesized,
	}); err != nil {
		return Confirmation{}, err
	}

	hold.Status = HoldConfirmed
	c.Status = StatusConfirmed
	c.JobID = hold.JobID
	e.mu.Lock()
	e.candidates[c.ID] = c
	e.holds[c.ID] = hold
	e.mu.Unlock()

	return Confirmation{
		Candidate:   c,
		JobID:       hold.JobID,
		Slot:        hold.Slot,
		Synthesized: synthesized,
	}, nil
}

// Candidate returns a candidate by id.
func (e *Engine) Candidate(id string) (Candidate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.candidates[id]
	return c, ok
}

// Job returns a job by id.
func (e *Engine) Job(id string) (Job, bool) {
	return e.job(id)
}

func (e *Engine) job(id string) (Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	if ok {
		j.Requirements = slices.Clone(j.Requirements)
	}
	return j, ok
}

// Hold returns the candidate's schedule hold.
func (e *Engine) Hold(candidateID string) (Hold, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.holds[candidateID]
	return h, ok
}

// Candidates returns every candidate ordered by id.
func (e *Engine) Candidates() []Candidate {
	e.mu.RLock()
	out := make([]Candidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		out = append(out, c)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Jobs returns every job ordered by id.
func (e *Engine) Jobs() []Job {
	e.mu.RLock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		j.Requirements = slices.Clone(j.Requirements)
		out = append(out, j)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b Job) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Stats counts jobs and candidates per status.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		Jobs:       len(e.jobs),
		Candidates: len(e.candidates),
		ByStatus:   make(map[Status]int, len(Statuses())),
	}
	for _, st := range Statuses() {
		s.ByStatus[st] = 0
	}
	for _, c := range e.candidates {
		s.ByStatus[c.Status]++
		if c.Consent {
			s.Consented++
		}
	}
	return s
}

// candidateFor loads a candidate and checks it is in one of the allowed
// statuses for op.
func (e *Engine) candidateFor(id, op string, allowed ...Status) (Candidate, error) {
	if strings.TrimSpace(id) == "" {
		return Candidate{}, fault.Validation("candidate id is required")
	}
	c, ok := e.Candidate(id)
	if !ok {
		return Candidate{}, fault.NotFound("candidate", id)
	}
	if !slices.Contains(allowed, c.Status) {
		return Candidate{}, invalidTransition(c, op)
	}
	return c, nil
}

func (e *Engine) resolveJob(c Candidate, jobID string) (string, error) {
	jobID = firstNonEmpty(jobID, c.JobID)
	if jobID == "" {
		return "", fault.Validation("candidate %s has no job; pass a job id", c.ID)
	}
	if _, ok := e.job(jobID); !ok {
		return "", fault.NotFound("job", jobID)
	}
	return jobID, nil
}

func (e *Engine) commit(c Candidate) {
	e.mu.Lock()
	e.candidates[c.ID] = c
	e.mu.Unlock()
}

func invalidTransition(c Candidate, op string) error {
	return fault.Validation("invalid transition: cannot %s candidate %s in status %s", op, c.ID, c.Status).
		WithDetail("candidateId", c.ID).
		WithDetail("status", string(c.Status))
}

func normalizeLocale(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "en", nil
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fault.Validation("invalid locale %q: %v", raw, err)
	}
	return tag.String(), nil
}

func isEnglish(locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base.String() == "en"
}

// normalizePhone keeps a leading + and digits.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if strings.Trim(b.String(), "+") == "" {
		return ""
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

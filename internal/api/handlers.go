package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/recruitflow/internal/fault"
	"github.com/roach88/recruitflow/internal/funnel"
	"github.com/roach88/recruitflow/internal/outbound"
	"github.com/roach88/recruitflow/internal/publish"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": s.mode})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var in funnel.JobInput
	if err := decodeJSON(r, &in, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.engine.CreateJob(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.engine.Job(id)
	if !ok {
		s.writeError(w, r, fault.NotFound("job", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type candidateView struct {
	funnel.Candidate
	Hold *funnel.Hold `json:"hold,omitempty"`
}

func (s *Server) view(c funnel.Candidate) candidateView {
	v := candidateView{Candidate: c}
	if hold, ok := s.engine.Hold(c.ID); ok {
		v.Hold = &hold
	}
	return v
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	var in funnel.CandidateInput
	if err := decodeJSON(r, &in, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.engine.Intake(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(c))
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates := s.engine.Candidates()
	out := make([]candidateView, len(candidates))
	for i, c := range candidates {
		out[i] = s.view(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.engine.Candidate(id)
	if !ok {
		s.writeError(w, r, fault.NotFound("candidate", id))
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleOutreach(w http.ResponseWriter, r *http.Request) {
	var in funnel.OutreachInput
	if err := decodeJSON(r, &in, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.engine.RecordOutreach(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &in, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.engine.CaptureConsent(r.Context(), chi.URLParam(r, "id"), in.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleQualify(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Qualify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var in struct {
		JobID string `json:"jobId"`
	}
	if err := decodeJSON(r, &in, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	hold, err := s.engine.Propose(r.Context(), chi.URLParam(r, "id"), in.JobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

type confirmResponse struct {
	funnel.Confirmation
	Synced bool `json:"synced"`
}

// handleConfirm reports a failed ATS sync in the body with status 200:
// the local confirmation is committed either way.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	conf, err := s.engine.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{Confirmation: conf, Synced: conf.Synced()})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg outbound.Message
	if err := decodeJSON(r, &msg, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.Send(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var in struct {
		From string `json:"from"`
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.HandleInbound(r.Context(), in.From, in.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fault.Validation("limit must be an integer, got %q", raw))
			return
		}
		limit = n
	}
	var cursor *int
	if raw := q.Get("cursor"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fault.Validation("cursor must be an integer, got %q", raw))
			return
		}
		cursor = &n
	}
	page, err := s.log.Page(r.Context(), cursor, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleVerify answers 200 for an intact chain and 409 with the same
// body shape when it is broken.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.log.Verify(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// streamStart resolves where a stream begins. Without a cursor the
// client gets only events appended after it connects.
func (s *Server) streamStart(r *http.Request) (int, error) {
	from, ok, err := publish.ResumeCursor(r)
	if err != nil || ok {
		return from, err
	}
	return s.log.Len(r.Context())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	from, err := s.streamStart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.publisher.ServeSSE(w, r, from); err != nil {
		s.logger.Warn("event stream ended", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	from, err := s.streamStart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.publisher.ServeWS(w, r, from); err != nil {
		s.logger.Warn("websocket stream ended", "error", err)
	}
}

type policyView struct {
	AllowedChannels []string `json:"allowedChannels"`
	MaxQuestions    int      `json:"maxQuestions"`
	Permissive      bool     `json:"permissive"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	rules := s.evaluator.Rules()
	view := policyView{
		AllowedChannels: rules.AllowedChannels,
		MaxQuestions:    rules.MaxQuestions,
		Permissive:      s.dispatcher.Permissive(),
	}
	if view.AllowedChannels == nil {
		view.AllowedChannels = []string{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// Package api exposes the funnel, the audit log and outbound messaging
// over HTTP.
//
// Responses are JSON. Failures use a single envelope
// {code, message, request_id} whose status follows the fault code.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/funnel"
	"github.com/roach88/recruitflow/internal/outbound"
	"github.com/roach88/recruitflow/internal/policy"
	"github.com/roach88/recruitflow/internal/publish"
)

// Deps are the components served by the API.
type Deps struct {
	Engine     *funnel.Engine
	Log        *audit.Log
	Dispatcher *outbound.Dispatcher
	Publisher  *publish.Publisher
	Evaluator  *policy.Evaluator

	// Mode is reported by /health.
	Mode   string
	Logger *slog.Logger
}

// Server routes requests to handlers.
type Server struct {
	engine     *funnel.Engine
	log        *audit.Log
	dispatcher *outbound.Dispatcher
	publisher  *publish.Publisher
	evaluator  *policy.Evaluator
	mode       string
	logger     *slog.Logger

	router chi.Router
}

// New creates a server over deps.
func New(deps Deps) *Server {
	s := &Server{
		engine:     deps.Engine,
		log:        deps.Log,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		evaluator:  deps.Evaluator,
		mode:       deps.Mode,
		logger:     deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/{id}", s.handleGetJob)
	})

	r.Route("/candidates", func(r chi.Router) {
		r.Post("/", s.handleIntake)
		r.Get("/", s.handleListCandidates)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCandidate)
			r.Post("/outreach", s.handleOutreach)
			r.Post("/consent", s.handleConsent)
			r.Post("/qualify", s.handleQualify)
			r.Post("/schedule/propose", s.handlePropose)
			r.Post("/schedule/confirm", s.handleConfirm)
		})
	})

	r.Post("/send", s.handleSend)
	r.Post("/inbound", s.handleInbound)

	r.Route("/audit", func(r chi.Router) {
		r.Get("/", s.handleAuditPage)
		r.Get("/verify", s.handleVerify)
		r.Get("/stream", s.handleStream)
		r.Get("/ws", s.handleWebSocket)
	})

	r.Get("/policy", s.handlePolicy)
	r.Get("/funnel", s.handleFunnel)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Code:      "NOT_FOUND",
			Message:   "no route for " + r.Method + " " + r.URL.Path,
			RequestID: middleware.GetReqID(r.Context()),
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer turns panics into the INTERNAL envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{
					Code:      "INTERNAL",
					Message:   "internal error",
					RequestID: middleware.GetReqID(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

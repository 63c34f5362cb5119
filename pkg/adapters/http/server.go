// Package http exposes the orchestrator over HTTP and implements the HTTP
// tool target and planner clients.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/canary"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies; message text is limited separately.
const maxBodyBytes = 64 << 10

// Service is what the HTTP API drives.
type Service interface {
	HandleTurn(ctx context.Context, turn domain.Turn) (domain.Reply, error)
	State(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error)
	Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error)
	Reset(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error)
	Handoff(ctx context.Context, key domain.ConversationKey, reason string) (*domain.ConversationState, error)
	Canary() canary.Config
	SetCanary(cfg canary.Config) error
}

// Server serves the conversation API.
type Server struct {
	service  Service
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	limits   InputLimits
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithInputLimits sets the per-vertical message size limits.
func WithInputLimits(l InputLimits) ServerOption {
	return func(s *Server) {
		s.limits = l
	}
}

// NewHandler creates the HTTP handler for svc.
func NewHandler(svc Service, opts ...ServerOption) http.Handler {
	s := &Server{
		service:  svc,
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		limits:   DefaultInputLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Get("/canary", s.getCanary)
		r.Put("/canary", s.putCanary)
		r.Route("/workspaces/{workspaceID}/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", s.getState)
			r.Get("/transitions", s.getTransitions)
			r.Post("/reset", s.reset)
			r.Post("/handoff", s.handoff)
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// TurnRequest is the body of POST /v1/turns.
type TurnRequest struct {
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	Vertical       string `json:"vertical"`
	Tier           string `json:"tier"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if !s.decode(w, r, &body) {
		return
	}
	text, err := s.limits.Clean(body.Vertical, body.Text)
	if err != nil {
		s.logger.Warn("turn rejected",
			"workspace_id", body.WorkspaceID,
			"conversation_id", body.ConversationID,
			"vertical", body.Vertical,
			"size", len(body.Text),
			"err", err,
		)
		s.fail(w, "turn rejected", err)
		return
	}

	reply, err := s.service.HandleTurn(r.Context(), domain.Turn{
		WorkspaceID:    body.WorkspaceID,
		ConversationID: body.ConversationID,
		MessageID:      body.MessageID,
		Text:           text,
		Vertical:       body.Vertical,
		Tier:           body.Tier,
		ReceivedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.fail(w, "turn failed", err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.State(r.Context(), conversationKey(r))
	if err != nil {
		s.fail(w, "state lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getTransitions(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.Transitions(r.Context(), conversationKey(r))
	if err != nil {
		s.fail(w, "transitions lookup failed", err)
		return
	}
	if records == nil {
		records = []domain.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Reset(r.Context(), conversationKey(r))
	if err != nil {
		s.fail(w, "reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handoff(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	if body.Reason == "" {
		body.Reason = "operator"
	}
	state, err := s.service.Handoff(r.Context(), conversationKey(r), body.Reason)
	if err != nil {
		s.fail(w, "handoff failed", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getCanary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Canary())
}

func (s *Server) putCanary(w http.ResponseWriter, r *http.Request) {
	var cfg canary.Config
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.service.SetCanary(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("canary updated", "enabled", cfg.Enabled, "percent", cfg.Percent)
	writeJSON(w, http.StatusOK, s.service.Canary())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTurn):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error(msg, "err", err)
		writeError(w, http.StatusServiceUnavailable, errors.New("service unavailable"))
	}
}

func conversationKey(r *http.Request) domain.ConversationKey {
	return domain.ConversationKey{
		WorkspaceID:    chi.URLParam(r, "workspaceID"),
		ConversationID: chi.URLParam(r, "conversationID"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

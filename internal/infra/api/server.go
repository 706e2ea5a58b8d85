package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
	"neuroforge/internal/infra/logging"
	"neuroforge/internal/infra/metrics"
	"neuroforge/internal/infra/worker"
)

type ServerOptions struct {
	Addr           string
	ModelPath      string
	AllowedOrigin  string
	RequestTimeout time.Duration
}

// Server is the HTTP face of the simulated training service.
type Server struct {
	sim       *Simulator
	responder adapter.ChatResponder
	opts      ServerOptions
	log       *zerolog.Logger
	srv       *http.Server
}

func NewServer(sim *Simulator, responder adapter.ChatResponder, opts ServerOptions, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = time.Minute
	}
	srvLog := logger.With().Str("component", "TrainerAPI").Logger()
	s := &Server{sim: sim, responder: responder, opts: opts, log: &srvLog}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the router and its middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe, cors(s.opts.AllowedOrigin), middleware.Timeout(s.opts.RequestTimeout))
	r.Get("/", s.handleRoot)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/train", s.handleTrain)
	r.Get("/status/{job_id}", s.handleStatus)
	r.Post("/chat", s.handleChat)

	return r
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.opts.Addr).Str("model_path", s.opts.ModelPath).Msg("training service listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online", "model_path": s.opts.ModelPath})
}

type trainRequest struct {
	ModelID     string `json:"model_id"`
	DatasetPath string `json:"dataset_path"`
}

type trainResponse struct {
	JobID  model.JobID     `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := s.sim.Submit(req.ModelID, req.DatasetPath)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, trainResponse{JobID: snap.JobID, Status: snap.Status})
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolStopped):
		writeError(w, http.StatusServiceUnavailable, "training queue is full")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("submit training job")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(chi.URLParam(r, "job_id"))
	snap, err := s.sim.Status(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type chatRequest struct {
	Message string              `json:"message"`
	History []model.ChatMessage `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.responder.Respond(r.Context(), req.Message, req.History)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Str("responder", s.responder.Name()).Msg("chat responder failed")
		writeError(w, http.StatusBadGateway, "chat responder unavailable")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// Package admin serves health, Prometheus metrics and a small JSON API for
// inspecting and steering jobs without the chat front end.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/runner"
	"omegaclaw/pkg/version"
)

// Jobs is the runner surface exposed over HTTP.
type Jobs interface {
	Sessions() []runner.SessionInfo
	Session(jobID string) (runner.SessionInfo, bool)
	HandleAnswer(ctx context.Context, jobID, text string) error
	Resume(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// Store is the read side of the job database.
type Store interface {
	ListJobs(filter persistence.JobFilter) ([]*persistence.Job, error)
	GetJob(jobID string) (*persistence.Job, error)
	DeliveredReports(jobID string) ([]*persistence.DeliveredReport, error)
	RecentCommands(userID int64, limit int) ([]*persistence.CommandEntry, error)
}

// Server is the admin HTTP server.
type Server struct {
	jobs     Jobs
	store    Store
	gatherer prometheus.Gatherer
	token    string
	logger   *logx.Logger
}

// NewServer creates the server. A nil gatherer serves the default registry.
func NewServer(jobs Jobs, store Store, gatherer prometheus.Gatherer, token string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		jobs:     jobs,
		store:    store,
		gatherer: gatherer,
		token:    token,
		logger:   logx.NewLogger("admin"),
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJob)
		r.Post("/jobs/{id}/answer", s.handleAnswer)
		r.Post("/jobs/{id}/resume", s.handleResume)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/commands", s.handleCommands)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🩺 Admin server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("Shutting down admin server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; shutdown needs a fresh one.
	return server.Shutdown(shutdownCtx)
}

// requireToken checks the bearer token. With no token configured every API
// request is refused.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			s.logger.Warn("Admin API request from %s refused: no token configured", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "admin API disabled")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.logger.Warn("Failed admin authentication from %s", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := 0
	for _, sess := range s.jobs.Sessions() {
		if sess.Active {
			active++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": active,
	})
}

type jobsResponse struct {
	Sessions []runner.SessionInfo `json:"sessions"`
	Jobs     []*persistence.Job   `json:"jobs"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	filter := persistence.JobFilter{Status: strings.ToUpper(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	jobs, err := s.store.ListJobs(filter)
	if err != nil {
		s.logger.Error("Failed to list jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, jobsResponse{Sessions: s.jobs.Sessions(), Jobs: jobs})
}

type jobResponse struct {
	Job       *persistence.Job               `json:"job"`
	Session   *runner.SessionInfo            `json:"session,omitempty"`
	Delivered []*persistence.DeliveredReport `json:"delivered"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))
	job, err := s.store.GetJob(id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("Failed to load job %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	resp := jobResponse{Job: job}
	if sess, ok := s.jobs.Session(id); ok {
		resp.Session = &sess
	}
	if resp.Delivered, err = s.store.DeliveredReports(id); err != nil {
		s.logger.Warn("Failed to list delivered reports of %s: %v", id, err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type answerRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"text\": \"...\"}")
		return
	}
	s.control(w, r, "answer", func(ctx context.Context, id string) error {
		return s.jobs.HandleAnswer(ctx, id, req.Text)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "resume", s.jobs.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "cancel", s.jobs.Cancel)
}

// control runs a job operation and maps its error to a status code.
func (s *Server) control(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	id := strings.ToUpper(chi.URLParam(r, "id"))
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	err := fn(ctx, id)
	switch {
	case err == nil:
		s.logger.Info("Admin %s on %s", op, id)
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "accepted"})
	case errors.Is(err, mailbox.ErrNotFound), errors.Is(err, runner.ErrNotTracked):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runner.ErrNotResumable), errors.Is(err, runner.ErrAlreadyActive),
		errors.Is(err, runner.ErrNoOpenBlocker):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Admin %s on %s failed: %v", op, id, err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, _ := strconv.ParseInt(q.Get("user"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.store.RecentCommands(user, limit)
	if err != nil {
		s.logger.Error("Failed to read command log: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read command log")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

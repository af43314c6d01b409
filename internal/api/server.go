package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/replysync/internal/syncer"
)

// StateLoader reads the persisted checkpoint.
type StateLoader interface {
	Load(ctx context.Context) (syncer.State, error)
}

type Server struct {
	router *chi.Mux
	port   int
	state  StateLoader
	logger *slog.Logger

	mu      sync.RWMutex
	lastRun *syncer.Summary
	trigger chan struct{}
}

// NewServer builds the status API. The run trigger is only mounted when
// apiToken is set.
func NewServer(port int, apiToken string, state StateLoader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		state:   state,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/replysync", func(r chi.Router) {
		r.Get("/status", s.status)
		if apiToken != "" {
			r.With(BearerAuthMiddleware(apiToken)).Post("/run", s.requestRun)
		}
	})

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown API server: %w", err)
		}
		return nil
	}
}

// RecordRun stores the summary shown by the status endpoint.
func (s *Server) RecordRun(sum *syncer.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = sum
}

// Triggers delivers manual run requests. At most one request is queued.
func (s *Server) Triggers() <-chan struct{} {
	return s.trigger
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Agent   string          `json:"agent"`
	Phase   syncer.Phase    `json:"phase"`
	State   syncer.State    `json:"state"`
	LastRun *syncer.Summary `json:"last_run,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.state.Load(r.Context())
	if err != nil {
		s.logger.Error("load sync state", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.mu.RLock()
	last := s.lastRun
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, statusResponse{
		Agent:   "replysync",
		Phase:   st.Phase(),
		State:   st,
		LastRun: last,
	})
}

func (s *Server) requestRun(w http.ResponseWriter, r *http.Request) {
	select {
	case s.trigger <- struct{}{}:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_queued"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

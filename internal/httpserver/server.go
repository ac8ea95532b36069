// Package httpserver exposes the read-only status surface: loop status,
// the action ledger, tracked deployments, the policy in force and store
// statistics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/scheduler"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

const (
	serviceName    = "Akash Autopilot"
	serviceVersion = "0.1.0"
	defaultLimit   = 50
	maxLimit       = 1000
)

// Reader is the store surface the server reads.
type Reader interface {
	Ping(ctx context.Context) error
	RecentActions(ctx context.Context, limit int) ([]*store.ActionRecord, error)
	ActionsByType(ctx context.Context, actionType store.ActionType, since time.Time, limit int) ([]*store.ActionRecord, error)
	ListDeployments(ctx context.Context) ([]*store.DeploymentSnapshot, error)
	GetDeployment(ctx context.Context, id string) (*store.DeploymentSnapshot, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// LoopStatus reports the decision loop's state.
type LoopStatus interface {
	Status() scheduler.Status
}

// PolicySource reports the policy in force.
type PolicySource interface {
	Summary() policy.Summary
}

// Server serves the status API.
type Server struct {
	reader   Reader
	loop     LoopStatus
	policy   PolicySource
	settings map[string]any
	logger   *slog.Logger
}

// New returns a Server. settings is echoed under "configuration" on /status.
func New(reader Reader, loop LoopStatus, pol PolicySource, settings map[string]any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reader: reader, loop: loop, policy: pol, settings: settings, logger: logger}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handleInfo)
	r.Get("/api", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/actions", s.handleActions)
	r.Get("/actions/{type}", s.handleActionsByType)
	r.Get("/deployments", s.handleDeployments)
	r.Get("/deployments/{id}", s.handleDeployment)
	r.Get("/policy", s.handlePolicy)
	r.Get("/stats", s.handleStats)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": "Autonomous Infrastructure Operator",
		"endpoints": map[string]string{
			"health":      "/health",
			"status":      "/status",
			"actions":     "/actions",
			"deployments": "/deployments",
			"policy":      "/policy",
			"stats":       "/stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if err := s.reader.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.unavailable(w, "stats", err)
		return
	}

	st := s.loop.Status()
	var last any
	if !st.LastLoopTime.IsZero() {
		last = st.LastLoopTime.UTC()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"running":           st.Running,
		"state":             st.State,
		"loop_count":        st.LoopCount,
		"last_loop_time":    last,
		"last_iteration_id": st.LastIterationID,
		"last_error":        st.LastError,
		"database_stats":    stats,
		"configuration":     s.settings,
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	actions, err := s.reader.RecentActions(r.Context(), limit)
	if err != nil {
		s.unavailable(w, "actions", err)
		return
	}
	if actions == nil {
		actions = []*store.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":   len(actions),
		"actions": actions,
	})
}

func (s *Server) handleActionsByType(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	actionType := store.ActionType(chi.URLParam(r, "type"))
	actions, err := s.reader.ActionsByType(r.Context(), actionType, time.Time{}, limit)
	if err != nil {
		s.unavailable(w, "actions", err)
		return
	}
	if actions == nil {
		actions = []*store.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"action_type": actionType,
		"total":       len(actions),
		"actions":     actions,
	})
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := s.reader.ListDeployments(r.Context())
	if err != nil {
		s.unavailable(w, "deployments", err)
		return
	}
	if deps == nil {
		deps = []*store.DeploymentSnapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":       len(deps),
		"deployments": deps,
	})
}

func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.reader.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Deployment not found")
		return
	}
	if err != nil {
		s.unavailable(w, "deployment", err)
		return
	}
	respondJSON(w, http.StatusOK, dep)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.policy.Summary())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.unavailable(w, "stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) unavailable(w http.ResponseWriter, what string, err error) {
	s.logger.Error("store read failed", "resource", what, "error", err)
	respondError(w, http.StatusServiceUnavailable, "Database not available")
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// Package api exposes the dispatch service over HTTP: batch triggering, run
// approval, health and metrics.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifecockpit/dispatch/internal/guardrails"
	"github.com/lifecockpit/dispatch/internal/messaging"
	"github.com/lifecockpit/dispatch/internal/processor/app"
)

// BreakerStateFunc reports the Dataverse circuit state for health output.
// Nil means no live Dataverse connection (sandbox mode).
type BreakerStateFunc func() string

type Server struct {
	processor *app.Processor
	guard     *guardrails.Manager
	factory   *messaging.Factory
	breaker   BreakerStateFunc
	logger    *slog.Logger
	router    chi.Router
}

func NewServer(processor *app.Processor, guard *guardrails.Manager, factory *messaging.Factory, breaker BreakerStateFunc, logger *slog.Logger) *Server {
	s := &Server{
		processor: processor,
		guard:     guard,
		factory:   factory,
		breaker:   breaker,
		logger:    logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{runID}", s.handleGetRun)
		r.Post("/{runID}/approve", s.handleApproveRun)
	})

	r.Post("/process", s.handleProcess)
	r.Get("/providers", s.handleProviders)
	r.Get("/status/{externalID}", s.handleStatus)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type healthResponse struct {
	Status    string          `json:"status"`
	Providers map[string]bool `json:"providers"`
	Dataverse string          `json:"dataverse,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := s.factory.HealthCheckAll(r.Context())

	resp := healthResponse{Status: "ok", Providers: providers}
	for _, healthy := range providers {
		if !healthy {
			resp.Status = "degraded"
			break
		}
	}
	if s.breaker != nil {
		resp.Dataverse = s.breaker()
		if resp.Dataverse == "open" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := guardrails.RunStatus(r.URL.Query().Get("status"))
	runs := s.guard.List(status)
	if runs == nil {
		runs = []*guardrails.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, ok := s.guard.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

type approveRequest struct {
	// Live requests the run execute for real; absent or false keeps the
	// run's current dry-run flag.
	Live bool `json:"live"`
}

func (s *Server) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req approveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if !s.guard.Approve(runID) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if req.Live {
		s.guard.SetDryRun(runID, false)
	}

	run, _ := s.guard.Get(runID)
	s.writeJSON(w, http.StatusOK, run)
}

type processRequest struct {
	DryRun *bool  `json:"dry_run,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	outcome := s.processor.ProcessScheduledMessages(r.Context(), guardrails.ExecOptions{
		RunID:  req.RunID,
		DryRun: req.DryRun,
	})

	code := http.StatusOK
	if !outcome.Success {
		code = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, code, outcome)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.factory.Providers(),
		"supported": s.factory.SupportedTypes(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		s.writeError(w, http.StatusBadRequest, "provider query parameter is required")
		return
	}
	result := s.factory.Status(r.Context(), externalID, providerName)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

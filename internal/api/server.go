package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"job-feed-importer/internal/models"
	"job-feed-importer/internal/telemetry"
)

// RunLister reads import history from the log store.
type RunLister interface {
	ListRuns(ctx context.Context) ([]models.ImportRun, error)
}

// Trigger starts an ingestion pass over all configured sources.
type Trigger interface {
	RunAll(ctx context.Context)
}

// DLQReader exposes abandoned queue messages for inspection.
type DLQReader interface {
	DLQPeek(ctx context.Context, count int64) ([]models.QueueMessage, error)
}

// Limiter guards the trigger endpoint.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Server wires the HTTP read and trigger surface over the import log.
type Server struct {
	runs    RunLister
	trigger Trigger
	dlq     DLQReader
	limiter Limiter
	log     *zap.Logger
}

// New constructs the API server. limiter and dlq may be nil.
func New(runs RunLister, trigger Trigger, dlq DLQReader, limiter Limiter, log *zap.Logger) *Server {
	return &Server{
		runs:    runs,
		trigger: trigger,
		dlq:     dlq,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/imports", s.handleListImports)
	r.Post("/imports/trigger", s.handleTrigger)
	r.Get("/imports/dlq", s.handleDLQ)
	return r
}

type listResponse struct {
	Message string             `json:"message"`
	Logs    []models.ImportRun `json:"logs"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	logs, err := s.runs.ListRuns(r.Context())
	if err != nil {
		s.log.Error("list import runs failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Message: "Failed to retrieve import logs",
			Error:   err.Error(),
		})
		return
	}
	if logs == nil {
		logs = []models.ImportRun{}
	}
	writeJSON(w, http.StatusOK, listResponse{Message: "All logs", Logs: logs})
}

// handleTrigger kicks off a full ingestion pass and returns immediately; run
// progress is observable through the import log.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), "trigger:"+clientKey(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Message: "Failed to trigger job import",
				Error:   err.Error(),
			})
			return
		}
		if !allowed {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Message: "Import trigger rate limited",
				Error:   "too many trigger requests",
			})
			return
		}
	}

	go s.trigger.RunAll(context.WithoutCancel(r.Context()))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job import process initiated. Check logs for status.",
	})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []models.QueueMessage{}})
		return
	}
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Message: "Failed to read dead-letter queue",
			Error:   err.Error(),
		})
		return
	}
	if items == nil {
		items = []models.QueueMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

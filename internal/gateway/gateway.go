// Package gateway exposes the admin HTTP API: task intake, queue inspection,
// retention cleanup, manual sync, cancellation, and the status endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/lexflow/internal/ingest"
	"github.com/basket/lexflow/internal/liststore"
	"github.com/basket/lexflow/internal/queue"
	"github.com/basket/lexflow/internal/runner"
	"github.com/basket/lexflow/internal/status"
)

const maxBodyBytes = 1 << 20

// taskSchema is the wire contract for POST /v1/tasks bodies. Callers may
// supply their own id for idempotent submission; status, timestamps, and
// result fields are server-assigned and rejected on intake.
const taskSchema = `{
	"type": "object",
	"required": ["agentId", "type"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"agentId": {"type": "string", "minLength": 1},
		"type": {"type": "string", "minLength": 1},
		"priority": {"type": "string"},
		"data": {"type": "object"}
	},
	"additionalProperties": false
}`

// SyncResult reports one watch's manual sync outcome.
type SyncResult struct {
	Watch   string         `json:"watch"`
	Summary ingest.Summary `json:"summary"`
	Error   string         `json:"error,omitempty"`
}

// Config holds the gateway's dependencies.
type Config struct {
	Queue   *queue.Queue
	Engine  *runner.Engine
	Tracker *status.Tracker

	// Sync triggers an immediate ingestion cycle. An empty watch name means
	// all configured watches.
	Sync func(ctx context.Context, watch string) ([]SyncResult, error)

	// RetentionFailedAge is the default cleanup cutoff when the request names
	// none.
	RetentionFailedAge time.Duration

	AuthToken         string
	ConfigFingerprint string
	Logger            *slog.Logger
}

// Server is the admin HTTP API.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	taskSchema *jsonschema.Schema
}

// New creates the gateway. The task intake schema is compiled up front.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal task schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("task.json", doc); err != nil {
		return nil, fmt.Errorf("add task schema resource: %w", err)
	}
	schema, err := c.Compile("task.json")
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return &Server{cfg: cfg, logger: logger, taskSchema: schema}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/tasks", s.handleCreateTask)
	mux.HandleFunc("POST /v1/tasks/dequeue", s.handleDequeue)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("GET /v1/queue", s.handleQueue)
	mux.HandleFunc("DELETE /v1/queue", s.handleClearQueue)
	mux.HandleFunc("POST /v1/queue/cleanup", s.handleCleanup)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	return header == "Bearer "+s.cfg.AuthToken
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps store outages to 503 and validation failures to 400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, liststore.ErrUnavailable):
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, queue.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Tracker.Snapshot(r.Context())
	code := http.StatusOK
	if snap.Degraded {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]bool{"healthy": snap.Healthy})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	snap := s.cfg.Tracker.Snapshot(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      snap,
		"activeRuns":  s.cfg.Engine.ActiveCount(),
		"lastError":   s.cfg.Engine.LastError(),
		"fingerprint": s.cfg.ConfigFingerprint,
	})
}

// handleDequeue pops the queue head and hands ownership to the caller. Once
// popped the task is the caller's to finish; a crash loses it.
func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	task, err := s.cfg.Queue.Dequeue(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info("task dequeued by operator", "task_id", task.ID)
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return
	}

	// Validate the wire shape before decoding; jsonschema.UnmarshalJSON keeps
	// numbers as json.Number, which the validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.taskSchema.Validate(doc); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid task: " + err.Error()})
		return
	}

	var task queue.AgentTask
	if err := json.Unmarshal(body, &task); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "decode task: " + err.Error()})
		return
	}
	length, err := s.cfg.Queue.Enqueue(r.Context(), &task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("task accepted", "task_id", task.ID, "agent_id", task.AgentID, "queue_depth", length)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":         task.ID,
		"status":     task.Status,
		"queueDepth": length,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	task, err := s.cfg.Queue.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if task == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown task: " + id})
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	canceled := s.cfg.Engine.Cancel(id)
	if !canceled {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "task not running: " + id})
		return
	}
	s.logger.Info("task cancellation requested", "task_id", id)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "canceling": true})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	depth, err := s.cfg.Queue.Len(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	pending, err := s.cfg.Queue.Peek(r.Context(), n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"depth":   depth,
		"pending": pending,
	})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.cfg.Queue.Clear(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Warn("queue cleared by operator")
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

type cleanupRequest struct {
	OlderThanHours int `json:"olderThanHours"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req cleanupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "decode request: " + err.Error()})
		return
	}
	age := s.cfg.RetentionFailedAge
	if req.OlderThanHours > 0 {
		age = time.Duration(req.OlderThanHours) * time.Hour
	}
	if age <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "no retention age configured"})
		return
	}
	result, err := s.cfg.Queue.CleanupFailed(r.Context(), age)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("retention cleanup ran",
		"older_than", age,
		"removed", result.Removed,
		"remaining", result.TotalAfter,
	)
	s.writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	Watch string `json:"watch"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.Sync == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{Error: "sync not configured"})
		return
	}
	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "decode request: " + err.Error()})
		return
	}
	results, err := s.cfg.Sync(r.Context(), req.Watch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

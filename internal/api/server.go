// Package api exposes the orchestrator over HTTP: task submission, status,
// results, cancellation, stats and cache administration.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/observability"
	"github.com/tinix84/pyplecs-sub000/internal/orchestrator"
	"github.com/tinix84/pyplecs-sub000/internal/sim"
	"github.com/tinix84/pyplecs-sub000/pkg/simapi"
)

type Server struct {
	orch    *orchestrator.Orchestrator
	auth    *authorizer
	safety  *adminSafety
	limiter *submitLimiter
	logger  *zap.Logger
}

func NewServer(orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:    orch,
		auth:    newAuthorizerFromEnv(),
		safety:  newAdminSafetyFromEnv(),
		limiter: newSubmitLimiterFromEnv(),
		logger:  logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByID)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/v1/admin/cache/evict", s.handleCacheEvict)
	return s.withLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics"); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, ok := s.requireScopes(w, r, "submit")
	if !ok {
		return
	}
	if !s.limiter.allow(p.id, time.Now().UTC()) {
		writeError(w, http.StatusTooManyRequests, "submit rate limit exceeded")
		return
	}

	var req simapi.SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content is not valid base64")
		return
	}
	priority, err := sim.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := sim.JobReference{
		Name:          req.Model,
		Content:       content,
		EngineVersion: req.EngineVersion,
	}
	id, err := s.orch.Submit(ref, sim.ParameterSet(req.Parameters), priority, req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, simapi.SubmitTaskResponse{TaskID: id})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "missing task id")
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleTaskStatus(w, r, id)
	case sub == "result" && r.Method == http.MethodGet:
		s.handleTaskResult(w, r, id)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.handleTaskCancel(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := s.requireScopes(w, r, "read"); !ok {
		return
	}
	v, ok := s.orch.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(v))
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := s.requireScopes(w, r, "read"); !ok {
		return
	}
	if _, ok := s.orch.Status(id); !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	res, err := s.orch.Result(id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotReady) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusGone, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, simapi.TaskResultResponse{
		TaskID:        id,
		Series:        res.Series,
		Scalars:       res.Scalars,
		Meta:          res.Meta,
		EngineVersion: res.EngineVersion,
		ElapsedMS:     res.ElapsedMS,
	})
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := s.requireScopes(w, r, "cancel", "submit"); !ok {
		return
	}
	if _, ok := s.orch.Status(id); !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	accepted := s.orch.Cancel(id)
	writeJSON(w, http.StatusOK, simapi.CancelTaskResponse{Accepted: accepted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "read", "metrics"); !ok {
		return
	}
	st := s.orch.Stats()
	writeJSON(w, http.StatusOK, simapi.StatsResponse{
		QueueDepth:     st.QueueDepth,
		RunningCount:   st.RunningCount,
		TrackedTasks:   st.TrackedTasks,
		Submitted:      st.Submitted,
		Completed:      st.Completed,
		Failed:         st.Failed,
		Cancelled:      st.Cancelled,
		CacheHitRate:   st.CacheHitRate,
		AvgLatencyMS:   st.AvgLatencyMS,
		EngineCalls:    st.EngineCalls,
		EngineFailures: st.EngineFailures,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "read", "metrics"); !ok {
		return
	}
	st, err := s.orch.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, simapi.CacheStatsResponse{
		HitCount:   st.HitCount,
		MissCount:  st.MissCount,
		EntryCount: st.EntryCount,
		SizeBytes:  st.SizeBytes,
	})
}

func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "admin"); !ok {
		return
	}
	if !s.safety.allowEvict(time.Now().UTC()) {
		writeError(w, http.StatusTooManyRequests, "eviction rate limit exceeded")
		return
	}
	removed, err := s.orch.EvictCache(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, simapi.EvictCacheResponse{Removed: removed})
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) (principal, bool) {
	p, code, msg := s.auth.authorize(r, scopes...)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return principal{}, false
	}
	return p, true
}

func statusPayload(v orchestrator.View) simapi.TaskStatusResponse {
	out := simapi.TaskStatusResponse{
		TaskID:      v.ID,
		Status:      v.Status,
		Priority:    v.Priority.String(),
		Progress:    progressFor(v.Status),
		RetryCount:  v.RetryCount,
		CacheHit:    v.CacheHit,
		Error:       v.Err,
		SubmittedAt: v.SubmittedAt.Format(time.RFC3339Nano),
		Metadata:    v.Metadata,
	}
	if !v.StartedAt.IsZero() {
		out.StartedAt = v.StartedAt.Format(time.RFC3339Nano)
	}
	if !v.FinishedAt.IsZero() {
		out.FinishedAt = v.FinishedAt.Format(time.RFC3339Nano)
	}
	return out
}

// progressFor is coarse: the engine reports no intermediate progress, so the
// API exposes queue position in the lifecycle instead.
func progressFor(status string) float64 {
	switch status {
	case orchestrator.StatusRunning:
		return 0.5
	case orchestrator.StatusCompleted, orchestrator.StatusFailed, orchestrator.StatusCancelled:
		return 1
	default:
		return 0
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, simapi.ErrorResponse{Error: msg})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

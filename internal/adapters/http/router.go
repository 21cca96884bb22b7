package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/metrics"
)

const maxRequestBytes = 1 << 20

type Options struct {
	Logger         *slog.Logger
	Metrics        *metrics.HTTPServerMetrics
	Health         func() map[string]string
	MCP            http.Handler
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	contexts ports.ContextService
	cache    ports.CacheAdmin
	opts     Options
	logger   *slog.Logger
}

func NewRouter(contexts ports.ContextService, cache ports.CacheAdmin, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 250 * time.Millisecond
	}
	return &Router{
		contexts: contexts,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/context", rt.answerContext)
	api.HandleFunc("POST /v1/answer", rt.answer)
	api.HandleFunc("POST /v1/score", rt.scoreQuery)
	api.HandleFunc("GET /v1/cache/stats", rt.cacheStats)
	api.HandleFunc("DELETE /v1/cache", rt.clearCache)
	if rt.opts.MCP != nil {
		api.Handle("/mcp", rt.opts.MCP)
	}

	var guarded http.Handler = api
	guarded = backpressureMiddleware(guarded, rt.opts.MaxInFlight, rt.opts.QueueWait)
	guarded = rateLimitMiddleware(guarded, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		root.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}
	root.Handle("/", guarded)

	var handler http.Handler = root
	handler = tracingMiddleware(handler)
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

type contextRequest struct {
	Query          string `json:"query"`
	CourseID       string `json:"course_id"`
	UserID         string `json:"user_id"`
	HistoryEnabled bool   `json:"history_enabled"`
}

func (req contextRequest) user() *domain.UserContext {
	if strings.TrimSpace(req.UserID) == "" {
		return nil
	}
	return &domain.UserContext{UserID: req.UserID, HistoryEnabled: req.HistoryEnabled}
}

func (rt *Router) answerContext(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeContextRequest(w, r)
	if !ok {
		return
	}
	out, err := rt.contexts.AnswerContext(r.Context(), req.Query, req.CourseID, req.user())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeContextRequest(w, r)
	if !ok {
		return
	}
	out, err := rt.contexts.Answer(r.Context(), req.Query, req.CourseID, req.user())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) scoreQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeContextRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rt.contexts.ScoreQuery(r.Context(), req.Query, req.CourseID, req.user()))
}

func (rt *Router) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.cache.Stats())
}

// clearCache drops one course scope when course_id is given, everything
// otherwise.
func (rt *Router) clearCache(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("course_id") {
		courseID := strings.TrimSpace(r.URL.Query().Get("course_id"))
		removed := rt.cache.InvalidateScope(courseID)
		writeJSON(w, http.StatusOK, map[string]any{"course_id": courseID, "removed": removed})
		return
	}
	rt.cache.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	var breakers map[string]string
	if rt.opts.Health != nil {
		breakers = rt.opts.Health()
		for _, state := range breakers {
			if state == "open" {
				status = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "breakers": breakers})
}

func (rt *Router) decodeContextRequest(w http.ResponseWriter, r *http.Request) (contextRequest, bool) {
	var req contextRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	return req, true
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.ErrorContext(r.Context(), "request_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

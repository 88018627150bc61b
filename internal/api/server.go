// Package api is the HTTP and MCP boundary of the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/counsel"
	"github.com/kalambet/minutes/internal/ingest"
	"github.com/kalambet/minutes/internal/metrics"
	"github.com/kalambet/minutes/internal/storage"
	"github.com/kalambet/minutes/internal/summary"
	"github.com/kalambet/minutes/internal/task"
)

const (
	maxRequestBodySize = 10 << 20 // 10MB, transcripts can be long
	serviceName        = "Meeting Minutes API"

	defaultUploadTimeout = 10 * time.Second
)

// Summarizer produces minutes synchronously.
type Summarizer interface {
	Summarize(ctx context.Context, conversation string) summary.Result
}

// TaskRunner creates and tracks asynchronous summary tasks.
type TaskRunner interface {
	Submit(conversation string) (task.Task, error)
	Get(id string) (task.Task, error)
	List() []task.Summary
}

// Counselor runs the knowledge upload and question answering flow.
type Counselor interface {
	Ask(ctx context.Context, meetingID, message string) (iter.Seq2[counsel.Record, error], error)
	Upload(ctx context.Context, meetingID, conversation string, timeout time.Duration) (string, error)
	History(ctx context.Context, meetingID string) ([]counsel.HistoryEntry, error)
	ClearHistory(ctx context.Context, meetingID string) error
}

// UploadLister reads the local upload ledger.
type UploadLister interface {
	ListUploads(ctx context.Context, meetingID string) ([]storage.Upload, error)
}

// Deps holds the components behind the HTTP API.
type Deps struct {
	Summarizer Summarizer
	Tasks      TaskRunner
	Counsel    Counselor
	Uploads    UploadLister     // optional; GET /knowledge/{meeting_id} returns an empty list without it
	Metrics    *metrics.Metrics // optional; disables /metrics and instrumentation when nil

	// UploadTimeout is used when POST /knowledge carries no timeout.
	UploadTimeout time.Duration
}

// NewHandler returns the service router.
func NewHandler(deps Deps) http.Handler {
	if deps.UploadTimeout <= 0 {
		deps.UploadTimeout = defaultUploadTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(allowAll)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)

	r.Post("/summary", handleSummary(deps))
	r.Post("/api/summary", handleCreateTask(deps))
	r.Get("/api/tasks", handleListTasks(deps))
	r.Get("/api/tasks/{task_id}", handleGetTask(deps))

	r.Post("/knowledge", handleUploadKnowledge(deps))
	r.Get("/knowledge/{meeting_id}", handleListUploads(deps))

	r.Post("/counsel", handleCounsel(deps))
	r.Get("/history/{meeting_id}", handleGetHistory(deps))
	r.Delete("/history/{meeting_id}", handleDeleteHistory(deps))

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": serviceName + " is running"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// requestLogger logs every request at debug level once it has been served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		slog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// allowAll accepts requests from any origin. The origin is matched by func
// rather than "*" so it is echoed back, which browsers require when
// credentials are allowed.
var allowAll = cors.Handler(cors.Options{
	AllowOriginFunc:  func(*http.Request, string) bool { return true },
	AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	AllowedHeaders:   []string{"*"},
	AllowCredentials: true,
	MaxAge:           600,
})

// statusFor maps a component error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	var se *agno.StatusError
	switch {
	case errors.Is(err, summary.ErrEmptyConversation),
		errors.Is(err, task.ErrEmptyConversation),
		errors.Is(err, counsel.ErrEmptyConversation),
		errors.Is(err, counsel.ErrEmptyMeetingID),
		errors.Is(err, counsel.ErrEmptyMessage):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, task.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ingest.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, ingest.ErrFailed):
		return http.StatusInternalServerError, "ingest_failed"
	case errors.Is(err, task.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.As(err, &se):
		return http.StatusInternalServerError, "remote_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// outcome is the {success, message} body used by the knowledge and history
// endpoints, for failures as well as successes.
type outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeOutcomeError(w http.ResponseWriter, err error) {
	code, _ := statusFor(err)
	writeJSON(w, code, outcome{Success: false, Message: err.Error()})
}

func limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
}

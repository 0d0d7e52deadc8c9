package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/dunamismax/imageoptimizer/internal/alttext"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dunamismax/imageoptimizer/internal/queue"
	"github.com/dunamismax/imageoptimizer/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUploadBytes = 64 << 20

type Server struct {
	logger         *log.Logger
	sessions       *editor.Manager
	store          store.Store
	queueClient    queueEnqueuer
	rateLimiter    RateLimiter
	metrics        *Metrics
	tracer         trace.Tracer
	maxUploadBytes int64
	mux            *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueExportSession(ctx context.Context, payload queue.ExportSessionPayload) (*asynq.TaskInfo, error)
}

// Deps are the collaborators of the HTTP surface. Store and Queue are only
// needed for persisted snapshots and background exports; RateLimiter and
// Tracer are optional.
type Deps struct {
	Sessions       *editor.Manager
	Store          store.Store
	Queue          queueEnqueuer
	RateLimiter    RateLimiter
	Metrics        *Metrics
	Tracer         trace.Tracer
	MaxUploadBytes int64
}

func NewServer(logger *log.Logger, deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	deps.Metrics.TrackRetainedPreviews(deps.Sessions.RetainedPreviewBytes)

	s := &Server{
		logger:         logger,
		sessions:       deps.Sessions,
		store:          deps.Store,
		queueClient:    deps.Queue,
		rateLimiter:    deps.RateLimiter,
		metrics:        deps.Metrics,
		tracer:         deps.Tracer,
		maxUploadBytes: deps.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /v1/sessions/restore", s.handleRestoreSession)
	s.mux.HandleFunc("GET /v1/sessions/{session}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{session}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /v1/sessions/{session}/files", s.handleIngest)
	s.mux.HandleFunc("PUT /v1/sessions/{session}/apply-to-all", s.handleApplyToAll)
	s.mux.HandleFunc("PATCH /v1/sessions/{session}/settings", s.handleUpdateAll)
	s.mux.HandleFunc("POST /v1/sessions/{session}/clear", s.handleClear)
	s.mux.HandleFunc("GET /v1/sessions/{session}/snapshot", s.handleGetSnapshot)
	s.mux.HandleFunc("PUT /v1/sessions/{session}/snapshot", s.handleSaveSnapshot)
	s.mux.HandleFunc("DELETE /v1/sessions/{session}/snapshot", s.handleDeleteSnapshot)
	s.mux.HandleFunc("POST /v1/sessions/{session}/resume", s.handleResumeSession)

	s.mux.HandleFunc("GET /v1/sessions/{session}/items/{item}", s.handleGetItem)
	s.mux.HandleFunc("DELETE /v1/sessions/{session}/items/{item}", s.handleRemoveItem)
	s.mux.HandleFunc("PATCH /v1/sessions/{session}/items/{item}/settings", s.handleUpdateItem)
	s.mux.HandleFunc("GET /v1/sessions/{session}/items/{item}/preview", s.handlePreview)
	s.mux.HandleFunc("GET /v1/sessions/{session}/items/{item}/download", s.handleDownload)
	s.mux.Handle("POST /v1/sessions/{session}/items/{item}/alt-text", s.withRateLimit(http.HandlerFunc(s.handleAltText)))

	s.mux.HandleFunc("POST /v1/sessions/{session}/export", s.handleExport)
	s.mux.HandleFunc("POST /v1/sessions/{session}/exports", s.handleEnqueueExport)
	s.mux.HandleFunc("GET /v1/exports/{export}", s.handleGetExport)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("session"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

// statusFor maps domain and collaborator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, editor.ErrSessionNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, store.ErrSnapshotNotFound),
		errors.Is(err, store.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExportInProgress), errors.Is(err, editor.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoValidFiles):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidDimensions),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrMaxFilesExceeded),
		errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, alttext.ErrAPIKeyMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, alttext.ErrAPIKeyInvalid), errors.Is(err, alttext.ErrFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("request failed err=%v", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}

	body := map[string]string{"error": err.Error()}
	if kind := domain.KindOf(err); kind != domain.KindUnknown && kind != domain.KindNone {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, into any) error {
	return decodeJSONLimit(r, into, 1<<20)
}

func decodeJSONLimit(r *http.Request, into any, maxBodyBytes int64) error {
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

// decodeOptionalJSON leaves into untouched when the request has no body.
func decodeOptionalJSON(r *http.Request, into any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, into)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 4 << 20

var (
	// ErrInvalidPayload marks input that can never be accepted.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnavailable marks a correlator that is shutting down.
	ErrUnavailable = errors.New("correlator unavailable")
)

// IngestAck reports how many alerts of a payload were queued.
type IngestAck struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Ingestor accepts raw JSON payloads on behalf of the HTTP and gRPC surfaces.
type Ingestor interface {
	Ingest(ctx context.Context, data []byte) (IngestAck, error)
	Feedback(ctx context.Context, data []byte) error
}

// HTTP holds dependencies for the REST handlers.
type HTTP struct {
	logger *slog.Logger
	svc    Ingestor
	groups http.Handler
}

// NewHTTP creates the REST handler set; groups serves the live group stream
// and may be nil.
func NewHTTP(logger *slog.Logger, svc Ingestor, groups http.Handler) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	if svc == nil {
		panic("api: ingestor is required")
	}
	return &HTTP{logger: logger, svc: svc, groups: groups}
}

// Router builds the chi router with the standard middleware stack.
func (h *HTTP) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes attaches API endpoints to the router.
func (h *HTTP) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", h.handleAlerts)
		r.Post("/feedback", h.handleFeedback)
		if h.groups != nil {
			r.Handle("/groups/ws", h.groups)
		}
	})
}

func (h *HTTP) handleAlerts(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	ack, err := h.svc.Ingest(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (h *HTTP) handleFeedback(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Feedback(r.Context(), body); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *HTTP) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body failed"})
		return nil, false
	}
	return body, true
}

func (h *HTTP) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
	default:
		h.logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *HTTP) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package httpapi serves the research API: run submission, run records and
// live event streams.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/auth"
	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

// Submitter starts a research run in the background.
type Submitter interface {
	Submit(ctx context.Context, runID uuid.UUID, query string) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, runID uuid.UUID, query string) error

func (f SubmitterFunc) Submit(ctx context.Context, runID uuid.UUID, query string) error {
	return f(ctx, runID, query)
}

// RunReader reads run records.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*db.ResearchRun, error)
	ListRuns(ctx context.Context, limit int) ([]db.ResearchRun, error)
}

// Handler serves the research API.
type Handler struct {
	submit Submitter
	runs   RunReader
	events *streaming.Manager
	auth   *auth.Middleware
	logger *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRunReader enables the run record endpoints.
func WithRunReader(r RunReader) Option { return func(h *Handler) { h.runs = r } }

// WithAuth protects every route with bearer authentication.
func WithAuth(m *auth.Middleware) Option { return func(h *Handler) { h.auth = m } }

// NewHandler creates the API handler.
func NewHandler(submit Submitter, events *streaming.Manager, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{submit: submit, events: events, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers the API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/research", h.protect(auth.ScopeResearchWrite, h.handleSubmit))
	mux.Handle("GET /api/v1/research", h.protect(auth.ScopeResearchRead, h.handleList))
	mux.Handle("GET /api/v1/research/{id}", h.protect(auth.ScopeResearchRead, h.handleGet))
	mux.Handle("GET /api/v1/research/{id}/events", h.protect(auth.ScopeResearchRead, h.handleSSE))
	mux.Handle("GET /api/v1/research/{id}/events/ws", h.protect(auth.ScopeResearchRead, h.handleWS))
}

func (h *Handler) protect(scope string, fn http.HandlerFunc) http.Handler {
	if h.auth == nil {
		return fn
	}
	return h.auth.HTTPMiddleware(auth.RequireScope(scope, fn))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func runIDFromPath(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}

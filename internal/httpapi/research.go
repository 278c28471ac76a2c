package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// maxQueryBytes caps the submitted research question.
const maxQueryBytes = 8 << 10

type submitRequest struct {
	Query string `json:"query"`
}

type submitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// POST /api/v1/research {"query": "..."}
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes+1024)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(req.Query) > maxQueryBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "query too long")
		return
	}

	runID := uuid.New()
	ctx := tracing.WithTraceparent(r.Context(), r.Header.Get("traceparent"))
	if err := h.submit.Submit(ctx, runID, req.Query); err != nil {
		h.logger.Error("Failed to submit research run", zap.String("run_id", runID.String()), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to start research run")
		return
	}
	h.logger.Info("Research run submitted", zap.String("run_id", runID.String()))
	h.writeJSON(w, http.StatusAccepted, submitResponse{RunID: runID.String(), Status: "accepted"})
}

// GET /api/v1/research?limit=N
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run records disabled")
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// GET /api/v1/research/{id}
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run records disabled")
		return
	}
	id, ok := runIDFromPath(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		h.writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		h.logger.Error("Failed to load run", zap.String("run_id", id.String()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load run")
	default:
		h.writeJSON(w, http.StatusOK, run)
	}
}

package api

import (
	"context"
	"net/http"
	"strings"
)

// ResultDependencies defines the interface for single-result reads.
type ResultDependencies interface {
	Result(ctx context.Context, competitorID string) (Standing, error)
}

// ResultHandler handles result requests.
type ResultHandler struct {
	deps ResultDependencies
}

// NewResultHandler creates a new result handler.
func NewResultHandler(deps ResultDependencies) *ResultHandler {
	return &ResultHandler{deps: deps}
}

// HandleGetResult handles GET /results/{competitor_id} requests.
func (h *ResultHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/results/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	entry, err := h.deps.Result(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

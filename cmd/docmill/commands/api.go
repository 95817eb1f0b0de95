package commands

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/observability"
)

type apiHandlers struct {
	logger  *observability.Logger
	catalog *catalog.Catalog
}

// newRouter builds the status API router.
func newRouter(logger *observability.Logger, cat *catalog.Catalog, timeout time.Duration) http.Handler {
	h := &apiHandlers{logger: logger, catalog: cat}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/documents", h.listDocuments)
	})

	return r
}

func (h *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "docmill",
	})
}

func (h *apiHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter", raw)
			return
		}
		limit = n
	}

	runs, err := h.catalog.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *apiHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.catalog.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", id)
			return
		}
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		writeError(w, http.StatusInternalServerError, "failed to load run", "")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *apiHandlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.catalog.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", id)
			return
		}
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		writeError(w, http.StatusInternalServerError, "failed to load run", "")
		return
	}

	docs, err := h.catalog.ListDocuments(r.Context(), run.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to list documents")
		writeError(w, http.StatusInternalServerError, "failed to list documents", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    run.ID,
		"documents": docs,
		"count":     len(docs),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	body := map[string]string{"error": message}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// CompareHandler handles coverage comparison requests
type CompareHandler struct {
	coverage *services.CoverageService
	compare  *services.CompareService
	logger   *logger.Logger
}

// NewCompareHandler creates a new compare handler
func NewCompareHandler(coverage *services.CoverageService, compare *services.CompareService, log *logger.Logger) *CompareHandler {
	return &CompareHandler{
		coverage: coverage,
		compare:  compare,
		logger:   log.WithComponent("compare-handler"),
	}
}

// CoverageMatrix builds the tactic/technique/source coverage matrix
func (h *CompareHandler) CoverageMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := models.CoverageOptions{
		Sources:              queryList(q["sources"]),
		IncludeSubtechniques: q.Get("include_subtechniques") == "true",
		Tactic:               q.Get("tactic"),
	}

	matrix, err := h.coverage.Build(r.Context(), opts)
	if err != nil {
		h.respondServiceError(w, err, "failed to build coverage matrix")
		return
	}

	h.respondJSON(w, http.StatusOK, matrix)
}

// CoverageGap compares the technique coverage of two sources
func (h *CompareHandler) CoverageGap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := q.Get("base")
	compare := q.Get("compare")

	if base == "" || compare == "" {
		h.respondError(w, http.StatusBadRequest, "base and compare source parameters are required", nil)
		return
	}

	result, err := h.coverage.Gap(r.Context(), base, compare)
	if err != nil {
		h.respondServiceError(w, err, "failed to compute coverage gap")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// SideBySide compares 2-6 detections field by field
func (h *CompareHandler) SideBySide(w http.ResponseWriter, r *http.Request) {
	ids := queryList(r.URL.Query()["ids"])

	result, err := h.compare.Diff(ids)
	if err != nil {
		h.respondServiceError(w, err, "failed to compare detections")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// respondServiceError maps service sentinel errors onto HTTP statuses
func (h *CompareHandler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrInvalidSelection):
		h.respondError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		h.respondError(w, http.StatusInternalServerError, fallback, err)
	}
}

// respondJSON sends a JSON response
func (h *CompareHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (h *CompareHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg(message)
	}

	h.respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// MITREHandler handles ATT&CK taxonomy API requests
type MITREHandler struct {
	taxonomy *services.MITREService
	logger   *logger.Logger
}

// NewMITREHandler creates a new MITRE handler
func NewMITREHandler(taxonomy *services.MITREService, log *logger.Logger) *MITREHandler {
	return &MITREHandler{
		taxonomy: taxonomy,
		logger:   log.WithComponent("mitre-handler"),
	}
}

// ListTactics lists the tactics in kill-chain order
func (h *MITREHandler) ListTactics(w http.ResponseWriter, r *http.Request) {
	tactics := h.taxonomy.ListTactics()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tactics": tactics,
		"count":   len(tactics),
	})
}

// GetTactic returns a tactic by ID or short name, with its techniques
func (h *MITREHandler) GetTactic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tactic, ok := h.taxonomy.ResolveTactic(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "tactic not found", nil)
		return
	}

	includeSubs := r.URL.Query().Get("include_subtechniques") == "true"
	techniques := h.taxonomy.TechniquesByTactic(tactic.ID, includeSubs)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tactic":     tactic,
		"techniques": techniques,
		"count":      len(techniques),
	})
}

// ListTechniques lists all techniques sorted by ID
func (h *MITREHandler) ListTechniques(w http.ResponseWriter, r *http.Request) {
	includeSubs := r.URL.Query().Get("include_subtechniques") == "true"
	techniques := h.taxonomy.ListTechniques(includeSubs)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"techniques": techniques,
		"count":      len(techniques),
	})
}

// GetTechnique returns a technique by ID, following deprecation remapping.
// The response carries the resolved ID so clients see when a stale ID was
// translated.
func (h *MITREHandler) GetTechnique(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))

	technique, ok := h.taxonomy.ResolveTechnique(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "technique not found", nil)
		return
	}

	resp := map[string]interface{}{
		"technique": technique,
	}
	if technique.ID != id {
		resp["requested_id"] = id
		resp["resolved_id"] = technique.ID
	}
	if !technique.IsSubtechnique {
		resp["subtechniques"] = h.taxonomy.Subtechniques(technique.ID)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Stats returns taxonomy statistics
func (h *MITREHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.taxonomy.Stats())
}

// respondJSON sends a JSON response
func (h *MITREHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (h *MITREHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg(message)
	}

	h.respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

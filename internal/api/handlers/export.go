package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// ExportHandler handles detection export requests
type ExportHandler struct {
	export *services.ExportService
	logger *logger.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(export *services.ExportService, log *logger.Logger) *ExportHandler {
	return &ExportHandler{
		export: export,
		logger: log.WithComponent("export-handler"),
	}
}

// Export streams the selected detections as JSON or CSV
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req models.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid export request body", err)
		return
	}

	filename := fmt.Sprintf("detections-%s.%s", time.Now().UTC().Format("20060102-150405"), req.Format)

	switch req.Format {
	case models.ExportCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.export.Export(r.Context(), w, req); err != nil {
		// Selection errors are caught before any bytes go out; headers can
		// still be rewritten here because nothing was flushed.
		switch {
		case errors.Is(err, models.ErrNotFound):
			h.respondError(w, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, models.ErrInvalidSelection):
			h.respondError(w, http.StatusBadRequest, err.Error(), nil)
		default:
			h.logger.Error().Err(err).Msg("export stream failed")
		}
	}
}

// respondError sends an error response
func (h *ExportHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg(message)
	}

	w.Header().Del("Content-Disposition")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); encErr != nil {
		h.logger.Error().Err(encErr).Msg("failed to encode JSON response")
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// DetectionsHandler handles detection search and retrieval requests
type DetectionsHandler struct {
	store  *services.DetectionStore
	logger *logger.Logger
}

// NewDetectionsHandler creates a new detections handler
func NewDetectionsHandler(store *services.DetectionStore, log *logger.Logger) *DetectionsHandler {
	return &DetectionsHandler{
		store:  store,
		logger: log.WithComponent("detections-handler"),
	}
}

// List searches detections with filters, sorting and pagination
func (h *DetectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := parseSearchFilters(r)
	result := h.store.Query(filters)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  result.Items,
		"total":  result.Total,
		"offset": result.Offset,
		"limit":  result.Limit,
	})
}

// Get returns a single detection by ID
func (h *DetectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetByID(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "detection not found", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// Filters returns the facet configuration for building filter UIs
func (h *DetectionsHandler) Filters(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"facets":          models.FacetConfig(),
		"sortable_fields": models.SortableFields,
		"sources_present": h.store.Sources(),
	})
}

// parseSearchFilters reads the filter query parameters. List parameters
// accept both repeated keys and comma-separated values.
func parseSearchFilters(r *http.Request) models.SearchFilters {
	q := r.URL.Query()

	filters := models.SearchFilters{
		Search:                q.Get("search"),
		Sources:               queryList(q["sources"]),
		Statuses:              queryList(q["statuses"]),
		Severities:            queryList(q["severities"]),
		Languages:             queryList(q["languages"]),
		MitreTactics:          queryList(q["mitre_tactics"]),
		MitreTechniques:       queryList(q["mitre_techniques"]),
		Tags:                  queryList(q["tags"]),
		LogSources:            queryList(q["log_sources"]),
		Platforms:             queryList(q["platforms"]),
		EventCategories:       queryList(q["event_categories"]),
		DataSourcesNormalized: queryList(q["data_sources_normalized"]),
		SortBy:                q.Get("sort_by"),
		SortOrder:             models.SortOrder(q.Get("sort_order")),
	}

	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filters.Offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filters.Limit = v
	}

	return filters
}

func queryList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// respondJSON sends a JSON response
func (h *DetectionsHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (h *DetectionsHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg(message)
	}

	h.respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

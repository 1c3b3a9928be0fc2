package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/ingestion"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// statsCacheTTL bounds staleness between the cached response and a snapshot
// swap; swaps also invalidate the key directly.
const statsCacheTTL = 30 * time.Second

// StatsHandler handles statistics requests
type StatsHandler struct {
	store     *services.DetectionStore
	taxonomy  *services.MITREService
	ingestion *ingestion.Service
	cache     *cache.RedisCache
	logger    *logger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store *services.DetectionStore, taxonomy *services.MITREService, ing *ingestion.Service, c *cache.RedisCache, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		store:     store,
		taxonomy:  taxonomy,
		ingestion: ing,
		cache:     c,
		logger:    log.WithComponent("stats-handler"),
	}
}

// Stats returns aggregate statistics over the record set
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		var cached map[string]interface{}
		if err := h.cache.GetJSON(r.Context(), cache.KeyStats, &cached); err == nil {
			h.respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	bySource := make(map[string]int)
	bySeverity := make(map[string]int)
	byStatus := make(map[string]int)

	for _, rec := range h.store.All() {
		bySource[string(rec.Source)]++
		bySeverity[string(rec.Severity)]++
		byStatus[string(rec.Status)]++
	}

	resp := map[string]interface{}{
		"total_detections":  h.store.Count(),
		"snapshot_built_at": h.store.BuiltAt(),
		"by_source":         bySource,
		"by_severity":       bySeverity,
		"by_status":         byStatus,
		"mitre":             h.taxonomy.Stats(),
	}
	if h.ingestion != nil {
		resp["sync"] = h.ingestion.Statuses()
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(r.Context(), cache.KeyStats, resp, statsCacheTTL); err != nil {
			h.logger.Warn().Err(err).Msg("failed to cache stats response")
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// respondJSON sends a JSON response
func (h *StatsHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

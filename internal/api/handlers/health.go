package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	cache   *cache.RedisCache
	store   *services.DetectionStore
	logger  *logger.Logger
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c *cache.RedisCache, store *services.DetectionStore, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		cache:   c,
		store:   store,
		logger:  log.WithComponent("health-handler"),
		started: time.Now(),
	}
}

// Health is the liveness probe
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// Ready is the readiness probe: the service is ready once records are loaded
// and the cache, when configured, answers pings.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.store.Count() > 0 {
		checks["store"] = "ok"
	} else {
		checks["store"] = "empty"
		healthy = false
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["redis"] = "unreachable"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, map[string]interface{}{
		"ready":  healthy,
		"checks": checks,
	})
}

// respondJSON sends a JSON response
func (h *HealthHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

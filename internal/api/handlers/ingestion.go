package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/ingestion"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// syncLockTTL bounds how long a crashed sync can hold the lock.
const syncLockTTL = 15 * time.Minute

// IngestionHandler exposes manual repository sync operations
type IngestionHandler struct {
	service *ingestion.Service
	cache   *cache.RedisCache
	logger  *logger.Logger
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(svc *ingestion.Service, c *cache.RedisCache, log *logger.Logger) *IngestionHandler {
	return &IngestionHandler{
		service: svc,
		cache:   c,
		logger:  log.WithComponent("ingestion-handler"),
	}
}

// Sync runs every enabled connector once and reports the per-source outcomes.
// A Redis lock keeps concurrent manual syncs from racing the scheduler.
func (h *IngestionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.respondError(w, http.StatusServiceUnavailable, "ingestion is not configured", nil)
		return
	}

	if h.cache != nil {
		acquired, err := h.cache.SetNX(r.Context(), cache.KeySyncLock, "1", syncLockTTL)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to acquire sync lock", err)
			return
		}
		if !acquired {
			h.respondError(w, http.StatusConflict, "a sync is already running", nil)
			return
		}
		defer func() {
			// The request context may already be cancelled here.
			if err := h.cache.Delete(context.Background(), cache.KeySyncLock); err != nil {
				h.logger.Warn().Err(err).Msg("failed to release sync lock")
			}
		}()
	}

	statuses := h.service.SyncAll(r.Context())

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": statuses,
		"synced":  len(statuses),
	})
}

// respondJSON sends a JSON response
func (h *IngestionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (h *IngestionHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error().Err(err).Msg(message)
	}

	h.respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

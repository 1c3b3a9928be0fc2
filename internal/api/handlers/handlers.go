package handlers

import (
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/ingestion"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health     *HealthHandler
	Detections *DetectionsHandler
	Compare    *CompareHandler
	Export     *ExportHandler
	MITRE      *MITREHandler
	Stats      *StatsHandler
	Ingestion  *IngestionHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Store     *services.DetectionStore
	Taxonomy  *services.MITREService
	Coverage  *services.CoverageService
	Compare   *services.CompareService
	Export    *services.ExportService
	Ingestion *ingestion.Service
	Cache     *cache.RedisCache
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(deps.Cache, deps.Store, deps.Logger),
		Detections: NewDetectionsHandler(deps.Store, deps.Logger),
		Compare:    NewCompareHandler(deps.Coverage, deps.Compare, deps.Logger),
		Export:     NewExportHandler(deps.Export, deps.Logger),
		MITRE:      NewMITREHandler(deps.Taxonomy, deps.Logger),
		Stats:      NewStatsHandler(deps.Store, deps.Taxonomy, deps.Ingestion, deps.Cache, deps.Logger),
		Ingestion:  NewIngestionHandler(deps.Ingestion, deps.Cache, deps.Logger),
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/api"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/api/handlers"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/config"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/database"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/database/repository"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/ingestion"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting detection explorer")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, redisCache, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer func() {
		if db != nil {
			db.Close()
		}
		if redisCache != nil {
			redisCache.Close()
		}
	}()

	// Initialize persistence
	var repo *repository.DetectionRepository
	if db != nil {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		repo = repository.NewDetectionRepository(db, log)
		log.Info().Msg("detection repository initialized with database")
	} else {
		log.Warn().Msg("running without database - records held in memory only")
	}

	// Initialize taxonomy index
	taxonomy := services.NewMITREService(log)
	if err := taxonomy.LoadFromFile(cfg.MITRE.EnterpriseAttackFile); err != nil {
		log.Warn().Err(err).
			Str("file", cfg.MITRE.EnterpriseAttackFile).
			Msg("failed to load ATT&CK bundle, continuing with embedded tactics only")
	}

	// Initialize detection store and analytical services
	store := services.NewDetectionStore(taxonomy, log)
	var coverageCache services.MatrixCache
	if redisCache != nil {
		coverageCache = redisCache
	}
	coverage := services.NewCoverageService(taxonomy, store, coverageCache, cfg.Coverage.CacheTTL, log)
	compare := services.NewCompareService(store, log)
	export := services.NewExportService(store, log)

	// Register rule repository connectors
	registry := ingestion.NewRegistry(log)
	registerConnectors(registry, log)
	registry.ConfigureFromIngestionConfig(cfg.Ingestion)

	var ingestionRepo ingestion.DetectionRepository
	if repo != nil {
		ingestionRepo = repo
	}
	ingestionService := ingestion.NewService(registry, store, ingestionRepo, cfg.Ingestion.SyncInterval, log)
	if redisCache != nil {
		ingestionService.SetOnPublish(func() {
			if err := redisCache.InvalidateCoverage(context.Background()); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate coverage cache")
			}
			if err := redisCache.Delete(context.Background(), cache.KeyStats); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate stats cache")
			}
		})
	}

	if err := ingestionService.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to bootstrap store from database")
	}

	// Initialize handlers
	deps := handlers.Dependencies{
		Store:     store,
		Taxonomy:  taxonomy,
		Coverage:  coverage,
		Compare:   compare,
		Export:    export,
		Ingestion: ingestionService,
		Cache:     redisCache,
		Logger:    log,
	}
	h := handlers.NewHandlers(deps)

	// Create router
	router := api.NewRouter(*cfg, h, redisCache, log)
	httpHandler := router.Setup()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start background ingestion
	if cfg.Ingestion.Enabled {
		go ingestionService.Run(ctx)
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// registerConnectors registers every known rule repository connector
func registerConnectors(registry *ingestion.Registry, log *logger.Logger) {
	connectors := []ingestion.Connector{
		ingestion.NewSigmaConnector(log),
		ingestion.NewElasticConnector(log),
		ingestion.NewProtectionsConnector(log),
		ingestion.NewHuntingConnector(log),
		ingestion.NewSplunkConnector(log),
		ingestion.NewSentinelConnector(log),
	}

	for _, conn := range connectors {
		if err := registry.Register(conn); err != nil {
			log.Warn().Err(err).Str("slug", conn.Slug()).Msg("failed to register connector")
		}
	}
}

// initInfrastructure initializes database and cache connections
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, *cache.RedisCache, error) {
	// Connect to PostgreSQL
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to PostgreSQL, continuing without database")
		db = nil
	}

	// Connect to Redis
	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		redisCache = nil
	}

	return db, redisCache, nil
}

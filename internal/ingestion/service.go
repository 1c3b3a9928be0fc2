package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// DetectionRepository is the persistence slice the ingestion service needs.
// A nil repository runs the service memory-only.
type DetectionRepository interface {
	ReplaceSource(ctx context.Context, source models.Source, records []*models.DetectionRecord) error
	LoadAll(ctx context.Context) ([]*models.DetectionRecord, error)
}

// SyncStatus describes the most recent run of one connector.
type SyncStatus struct {
	Source      models.Source `json:"source"`
	Records     int           `json:"records"`
	FilesParsed int           `json:"files_parsed"`
	FilesFailed int           `json:"files_failed"`
	Duration    time.Duration `json:"duration"`
	SyncedAt    time.Time     `json:"synced_at"`
	Error       string        `json:"error,omitempty"`
}

// Service drives the connectors: it fetches each vendor repository, persists
// the parsed records, and swaps a fresh snapshot into the detection store.
// A connector failure keeps that source's previous records in place.
type Service struct {
	logger   *logger.Logger
	registry *Registry
	store    *services.DetectionStore
	repo     DetectionRepository
	interval time.Duration

	mu        sync.Mutex
	bySource  map[models.Source][]*models.DetectionRecord
	statuses  map[models.Source]SyncStatus
	onPublish func()
}

// SetOnPublish registers a hook invoked after every snapshot swap. Used to
// drop derived caches that the new snapshot invalidates.
func (s *Service) SetOnPublish(fn func()) {
	s.onPublish = fn
}

// NewService wires the ingestion service. repo may be nil.
func NewService(registry *Registry, store *services.DetectionStore, repo DetectionRepository, interval time.Duration, log *logger.Logger) *Service {
	return &Service{
		logger:   log.WithComponent("ingestion-service"),
		registry: registry,
		store:    store,
		repo:     repo,
		interval: interval,
		bySource: make(map[models.Source][]*models.DetectionRecord),
		statuses: make(map[models.Source]SyncStatus),
	}
}

// Bootstrap seeds the in-memory store from the database so the API serves
// data before the first repository sync completes.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, rec := range records {
		s.bySource[rec.Source] = append(s.bySource[rec.Source], rec)
	}
	s.mu.Unlock()

	s.store.ReplaceAll(records)
	s.logger.Info().Int("records", len(records)).Msg("bootstrapped store from database")
	return nil
}

// SyncAll runs every enabled connector once, publishes a new snapshot and
// returns the per-source outcomes of this run.
func (s *Service) SyncAll(ctx context.Context) []SyncStatus {
	connectors := s.registry.ListEnabled()
	statuses := make([]SyncStatus, 0, len(connectors))
	for _, conn := range connectors {
		statuses = append(statuses, s.syncConnector(ctx, conn))
	}
	s.publish()
	return statuses
}

func (s *Service) syncConnector(ctx context.Context, conn Connector) SyncStatus {
	log := s.logger.WithSource(conn.Slug())
	log.Info().Msg("syncing detection source")

	result, err := conn.Fetch(ctx)

	status := SyncStatus{Source: conn.Source(), SyncedAt: time.Now()}
	if err != nil {
		status.Error = err.Error()
		s.setStatus(conn.Source(), status)
		log.Error().Err(err).Msg("source sync failed")
		return status
	}

	status.Records = len(result.Records)
	status.FilesParsed = result.FilesParsed
	status.FilesFailed = result.FilesFailed
	status.Duration = result.Duration

	if s.repo != nil {
		if err := s.repo.ReplaceSource(ctx, conn.Source(), result.Records); err != nil {
			log.Error().Err(err).Msg("failed to persist records")
		}
	}

	s.mu.Lock()
	s.bySource[conn.Source()] = result.Records
	s.mu.Unlock()
	s.setStatus(conn.Source(), status)

	log.Info().
		Int("records", len(result.Records)).
		Int("failed_files", result.FilesFailed).
		Dur("duration", result.Duration).
		Msg("source sync complete")

	return status
}

// publish flattens the per-source record sets into one snapshot swap.
func (s *Service) publish() {
	s.mu.Lock()
	total := 0
	for _, records := range s.bySource {
		total += len(records)
	}
	merged := make([]*models.DetectionRecord, 0, total)
	for _, records := range s.bySource {
		merged = append(merged, records...)
	}
	s.mu.Unlock()

	s.store.ReplaceAll(merged)
	if s.onPublish != nil {
		s.onPublish()
	}
}

func (s *Service) setStatus(source models.Source, status SyncStatus) {
	s.mu.Lock()
	s.statuses[source] = status
	s.mu.Unlock()
}

// Statuses returns the latest per-source sync outcomes.
func (s *Service) Statuses() []SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SyncStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out
}

// Run performs an initial sync and then re-syncs on the configured interval
// until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.SyncAll(ctx)

	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("ingestion service stopping")
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

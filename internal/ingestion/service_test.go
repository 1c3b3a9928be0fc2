package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/services"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// stubConnector serves canned records without touching the filesystem.
type stubConnector struct {
	*BaseConnector
	records []*models.DetectionRecord
	err     error
}

func newStubConnector(slug string, source models.Source, records []*models.DetectionRecord, err error) *stubConnector {
	base := NewBaseConnector(slug, slug, source)
	_ = base.Configure(ConnectorConfig{Enabled: true})
	return &stubConnector{BaseConnector: base, records: records, err: err}
}

func (c *stubConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &FetchResult{
		Source:      c.Source(),
		Records:     c.records,
		FilesParsed: len(c.records),
		FetchedAt:   time.Now(),
	}, nil
}

func testRecord(id string, source models.Source) *models.DetectionRecord {
	return &models.DetectionRecord{
		ID:       id,
		Source:   source,
		Title:    "Detection " + id,
		Severity: models.SeverityMedium,
		Status:   models.StatusStable,
	}
}

func newTestStore() *services.DetectionStore {
	taxonomy := services.NewMITREService(logger.NewDefault())
	return services.NewDetectionStore(taxonomy, logger.NewDefault())
}

func TestSyncAllPublishesSnapshot(t *testing.T) {
	store := newTestStore()
	registry := NewRegistry(logger.NewDefault())
	require.NoError(t, registry.Register(newStubConnector("sigma", models.SourceSigma,
		[]*models.DetectionRecord{testRecord("a", models.SourceSigma)}, nil)))
	require.NoError(t, registry.Register(newStubConnector("splunk", models.SourceSplunk,
		[]*models.DetectionRecord{testRecord("b", models.SourceSplunk)}, nil)))

	svc := NewService(registry, store, nil, 0, logger.NewDefault())

	published := 0
	svc.SetOnPublish(func() { published++ })

	run := svc.SyncAll(context.Background())

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 1, published)
	require.Len(t, run, 2)
	for _, status := range run {
		assert.Empty(t, status.Error)
		assert.Equal(t, 1, status.Records)
	}

	statuses := svc.Statuses()
	assert.Len(t, statuses, 2)
}

func TestSyncAllKeepsPreviousRecordsOnFailure(t *testing.T) {
	store := newTestStore()
	registry := NewRegistry(logger.NewDefault())

	good := newStubConnector("sigma", models.SourceSigma,
		[]*models.DetectionRecord{testRecord("a", models.SourceSigma)}, nil)
	require.NoError(t, registry.Register(good))

	svc := NewService(registry, store, nil, 0, logger.NewDefault())
	svc.SyncAll(context.Background())
	require.Equal(t, 1, store.Count())

	// The connector starts failing; its previous records survive the re-sync
	good.err = errors.New("checkout unavailable")
	run := svc.SyncAll(context.Background())

	assert.Equal(t, 1, store.Count())
	require.Len(t, run, 1)
	assert.Equal(t, "checkout unavailable", run[0].Error)

	statuses := svc.Statuses()
	require.Len(t, statuses, 1)
	assert.NotEmpty(t, statuses[0].Error)
}

func TestRegistryRejectsDuplicateSlugs(t *testing.T) {
	registry := NewRegistry(logger.NewDefault())
	require.NoError(t, registry.Register(newStubConnector("sigma", models.SourceSigma, nil, nil)))
	assert.Error(t, registry.Register(newStubConnector("sigma", models.SourceSigma, nil, nil)))
}

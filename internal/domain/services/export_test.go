package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

func newExport(store *DetectionStore) *ExportService {
	return NewExportService(store, logger.NewDefault())
}

func exportFixture() *DetectionStore {
	return testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Title = `Detection with "quotes", commas`
			r.MitreTechniques = []string{"T1059", "T1055"}
			r.DetectionLogic = "selection:\n    Image|endswith: powershell.exe"
			r.RawContent = "title: raw yaml"
			r.RuleCreatedDate = date("2023-03-01")
		}),
		record("b", models.SourceElastic, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityHigh
			r.RawContent = `{"rule_id": "b"}`
		}),
	)
}

func TestExportRejectsEmptySelection(t *testing.T) {
	svc := newExport(exportFixture())

	err := svc.Export(context.Background(), &bytes.Buffer{}, models.ExportRequest{Format: models.ExportJSON})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newExport(exportFixture())

	err := svc.Export(context.Background(), &bytes.Buffer{}, models.ExportRequest{
		Format: "xml",
		IDs:    []string{"a"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestExportUnknownIDFails(t *testing.T) {
	svc := newExport(exportFixture())

	err := svc.Export(context.Background(), &bytes.Buffer{}, models.ExportRequest{
		Format: models.ExportJSON,
		IDs:    []string{"a", "missing"},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExportJSONRoundTrip(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format: models.ExportJSON,
		IDs:    []string{"a", "b"},
	})
	require.NoError(t, err)

	var decoded []models.DetectionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "a", decoded[0].ID)
	assert.Equal(t, []string{"T1059", "T1055"}, decoded[0].MitreTechniques)

	// The rule body stays out unless requested
	assert.Empty(t, decoded[0].RawContent)
	assert.Empty(t, decoded[0].DetectionLogic)
}

func TestExportJSONIncludeRaw(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format:     models.ExportJSON,
		IDs:        []string{"a"},
		IncludeRaw: true,
	})
	require.NoError(t, err)

	var decoded []models.DetectionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "title: raw yaml", decoded[0].RawContent)
	assert.NotEmpty(t, decoded[0].DetectionLogic)
}

func TestExportCSV(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format: models.ExportCSV,
		IDs:    []string{"a", "b"},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, "id", header[0])
	assert.NotContains(t, header, "raw_content")

	// Quoting survives the round trip
	assert.Equal(t, `Detection with "quotes", commas`, rows[1][3])
	// List columns join with comma-space
	assert.Equal(t, "T1059, T1055", rows[1][11])
	// The detection_logic column empties out without include_raw
	assert.Equal(t, "", rows[1][16])
	// Dates render RFC 3339, empty when absent
	assert.Equal(t, "2023-03-01T00:00:00Z", rows[1][22])
	assert.Equal(t, "", rows[2][22])
}

func TestExportCSVIncludeRaw(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format:     models.ExportCSV,
		IDs:        []string{"b"},
		IncludeRaw: true,
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "raw_content", rows[0][len(rows[0])-1])
	assert.Equal(t, `{"rule_id": "b"}`, rows[1][len(rows[1])-1])
}

func TestExportByFilters(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format:  models.ExportJSON,
		Filters: &models.SearchFilters{Sources: []string{"elastic"}},
	})
	require.NoError(t, err)

	var decoded []models.DetectionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "b", decoded[0].ID)
}

func TestExportEmptyFiltersExportsEverything(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format:  models.ExportJSON,
		Filters: &models.SearchFilters{},
	})
	require.NoError(t, err)

	var decoded []models.DetectionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

func TestExportFiltersIgnorePagination(t *testing.T) {
	svc := newExport(exportFixture())
	var buf bytes.Buffer

	err := svc.Export(context.Background(), &buf, models.ExportRequest{
		Format:  models.ExportJSON,
		Filters: &models.SearchFilters{Limit: 1, Offset: 5},
	})
	require.NoError(t, err)

	var decoded []models.DetectionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

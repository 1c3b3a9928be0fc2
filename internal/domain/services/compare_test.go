package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

func newCompare(store *DetectionStore) *CompareService {
	return NewCompareService(store, logger.NewDefault())
}

func fieldDiff(t *testing.T, result *models.DiffResult, field string) models.FieldDiff {
	t.Helper()
	for _, fd := range result.Fields {
		if fd.Field == field {
			return fd
		}
	}
	t.Fatalf("field %s not in diff", field)
	return models.FieldDiff{}
}

func TestDiffSelectionBounds(t *testing.T) {
	svc := newCompare(testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
	))

	_, err := svc.Diff([]string{"a"})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)

	_, err = svc.Diff([]string{"a", "b", "a", "b", "a", "b", "a"})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)

	_, err = svc.Diff([]string{"a", "a"})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)

	_, err = svc.Diff([]string{"a", "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDiffRecordsKeepRequestOrder(t *testing.T) {
	svc := newCompare(testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
		record("c", models.SourceSplunk),
	))

	result, err := svc.Diff([]string{"c", "a", "b"})
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "c", result.Records[0].ID)
	assert.Equal(t, "a", result.Records[1].ID)
	assert.Equal(t, "b", result.Records[2].ID)
}

func TestDiffFlagsDifferingFields(t *testing.T) {
	svc := newCompare(testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityHigh
			r.Language = "sigma"
		}),
		record("b", models.SourceElastic, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityHigh
			r.Language = "kql"
		}),
	))

	result, err := svc.Diff([]string{"a", "b"})
	require.NoError(t, err)

	assert.False(t, fieldDiff(t, result, "severity").Differs)

	lang := fieldDiff(t, result, "language")
	assert.True(t, lang.Differs)
	assert.Equal(t, []string{"sigma", "kql"}, lang.Values)
}

func TestDiffListFieldsCompareAsSets(t *testing.T) {
	svc := newCompare(testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.MitreTechniques = []string{"T1059", "T1055"}
		}),
		record("b", models.SourceElastic, func(r *models.DetectionRecord) {
			// Same set, different order and a duplicate
			r.MitreTechniques = []string{"T1055", "T1059", "T1055"}
		}),
	))

	result, err := svc.Diff([]string{"a", "b"})
	require.NoError(t, err)

	techniques := fieldDiff(t, result, "mitre_techniques")
	assert.False(t, techniques.Differs)
	assert.Equal(t, techniques.Values[0], techniques.Values[1])
}

func TestDiffCoversFixedFieldList(t *testing.T) {
	svc := newCompare(testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
	))

	result, err := svc.Diff([]string{"a", "b"})
	require.NoError(t, err)

	fields := make([]string, 0, len(result.Fields))
	for _, fd := range result.Fields {
		fields = append(fields, fd.Field)
	}
	assert.Equal(t, []string{
		"severity", "status", "language", "platform", "event_category",
		"data_source_normalized", "mitre_tactics", "mitre_techniques",
		"log_sources", "description", "detection_logic",
	}, fields)
}

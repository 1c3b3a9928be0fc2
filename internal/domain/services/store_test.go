package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
)

func TestGetByID(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
	)

	rec, err := store.GetByID("a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.ID)

	_, err = store.GetByID("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
		record("c", models.SourceSplunk),
	)

	records, err := store.GetByIDs([]string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[1].ID)

	_, err = store.GetByIDs([]string{"a", "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestQueryFacetFilters(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityHigh
			r.MitreTechniques = []string{"T1059"}
			r.Tags = []string{"attack_range"}
		}),
		record("b", models.SourceElastic, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityLow
			r.MitreTechniques = []string{"T1055"}
		}),
		record("c", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Severity = models.SeverityHigh
			r.MitreTechniques = []string{"T1055", "T1059"}
		}),
	)

	// Single facet
	result := store.Query(models.SearchFilters{Sources: []string{"sigma"}})
	assert.Equal(t, 2, result.Total)

	// OR within a field
	result = store.Query(models.SearchFilters{MitreTechniques: []string{"T1059", "T1055"}})
	assert.Equal(t, 3, result.Total)

	// AND across fields
	result = store.Query(models.SearchFilters{
		Sources:         []string{"sigma"},
		MitreTechniques: []string{"T1055"},
	})
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "c", result.Items[0].ID)

	// No match
	result = store.Query(models.SearchFilters{Severities: []string{"critical"}})
	assert.Equal(t, 0, result.Total)
}

func TestQueryFreeTextSearch(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Title = "Suspicious PowerShell Download"
		}),
		record("b", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Description = "Detects powershell encoded commands"
		}),
		record("c", models.SourceSigma, func(r *models.DetectionRecord) {
			r.DetectionLogic = "process.name: powershell.exe"
		}),
		record("d", models.SourceSigma, func(r *models.DetectionRecord) {
			r.Author = "someone"
		}),
	)

	result := store.Query(models.SearchFilters{Search: "POWERSHELL"})
	assert.Equal(t, 3, result.Total)

	result = store.Query(models.SearchFilters{Search: "someone"})
	assert.Equal(t, 1, result.Total)
}

func TestQuerySeveritySortIsOrdinal(t *testing.T) {
	store := testStore(
		record("low", models.SourceSigma, func(r *models.DetectionRecord) { r.Severity = models.SeverityLow }),
		record("crit", models.SourceSigma, func(r *models.DetectionRecord) { r.Severity = models.SeverityCritical }),
		record("med", models.SourceSigma, func(r *models.DetectionRecord) { r.Severity = models.SeverityMedium }),
		record("high", models.SourceSigma, func(r *models.DetectionRecord) { r.Severity = models.SeverityHigh }),
	)

	result := store.Query(models.SearchFilters{SortBy: "severity", SortOrder: models.SortDesc})
	ids := make([]string, 0, 4)
	for _, rec := range result.Items {
		ids = append(ids, rec.ID)
	}
	// critical > high > medium > low, not alphabetical
	assert.Equal(t, []string{"crit", "high", "med", "low"}, ids)
}

func TestQueryDateSortNilsLast(t *testing.T) {
	store := testStore(
		record("old", models.SourceSigma, func(r *models.DetectionRecord) { r.RuleCreatedDate = date("2020-01-01") }),
		record("none", models.SourceSigma),
		record("new", models.SourceSigma, func(r *models.DetectionRecord) { r.RuleCreatedDate = date("2024-06-01") }),
	)

	asc := store.Query(models.SearchFilters{SortBy: "rule_created_date", SortOrder: models.SortAsc})
	assert.Equal(t, "old", asc.Items[0].ID)
	assert.Equal(t, "none", asc.Items[2].ID)

	desc := store.Query(models.SearchFilters{SortBy: "rule_created_date", SortOrder: models.SortDesc})
	assert.Equal(t, "new", desc.Items[0].ID)
	// Undated records stay last in both directions
	assert.Equal(t, "none", desc.Items[2].ID)
}

func TestQueryInvalidSortFieldFallsBack(t *testing.T) {
	store := testStore(
		record("b", models.SourceSigma, func(r *models.DetectionRecord) { r.Title = "Beta" }),
		record("a", models.SourceSigma, func(r *models.DetectionRecord) { r.Title = "Alpha" }),
	)

	result := store.Query(models.SearchFilters{SortBy: "nonsense", SortOrder: models.SortDesc})
	require.Equal(t, 2, result.Total)
	assert.Equal(t, "Alpha", result.Items[0].Title)
}

func TestQueryPagination(t *testing.T) {
	records := make([]*models.DetectionRecord, 0, 10)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		records = append(records, record(id, models.SourceSigma))
	}
	store := testStore(records...)

	page := store.Query(models.SearchFilters{Offset: 4, Limit: 3, SortBy: "title"})
	assert.Equal(t, 10, page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "e", page.Items[0].ID)
	assert.Equal(t, 4, page.Offset)
	assert.Equal(t, 3, page.Limit)

	// Offset past the end yields an empty page, not an error
	empty := store.Query(models.SearchFilters{Offset: 100, Limit: 10})
	assert.Equal(t, 10, empty.Total)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 100, empty.Offset)
}

func TestQueryReportsEffectivePage(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceSigma),
	)

	// A zero limit means the default page size was applied, and the result
	// says so instead of echoing the request
	result := store.Query(models.SearchFilters{})
	assert.Equal(t, 0, result.Offset)
	assert.Equal(t, defaultPageSize, result.Limit)

	// Negative offsets clamp to zero and oversized limits to the maximum
	result = store.Query(models.SearchFilters{Offset: -5, Limit: 9000})
	assert.Equal(t, 0, result.Offset)
	assert.Equal(t, maxPageSize, result.Limit)
}

func TestSnapshotRemapsTechniqueCounts(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			// Stale ID remaps to T1059.001 at snapshot build time
			r.MitreTechniques = []string{"T1086"}
		}),
		record("b", models.SourceSigma, func(r *models.DetectionRecord) {
			r.MitreTechniques = []string{"T1059.001", "T1059.001"}
		}),
	)

	counts, unmapped := store.TechniqueCounts()
	assert.Equal(t, 2, counts["T1059.001"]["sigma"])
	assert.Empty(t, counts["T1086"])
	assert.Empty(t, unmapped)
}

func TestSnapshotReportsUnmappedTechniques(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma, func(r *models.DetectionRecord) {
			r.MitreTechniques = []string{"T4242"}
		}),
	)

	_, unmapped := store.TechniqueCounts()
	assert.Equal(t, []string{"T4242"}, unmapped)
}

func TestSourcesAndCounts(t *testing.T) {
	store := testStore(
		record("a", models.SourceSigma),
		record("b", models.SourceElastic),
		record("c", models.SourceSigma),
	)

	assert.Equal(t, []string{"elastic", "sigma"}, store.Sources())
	assert.Equal(t, 3, store.Count())
	assert.Len(t, store.BySource("sigma"), 2)
}

package models

// TechniqueCoverage is one technique row of the coverage matrix.
type TechniqueCoverage struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsSubtechnique bool   `json:"is_subtechnique"`
	// Coverage holds the distinct-record detection count per source.
	Coverage            map[string]int `json:"coverage"`
	TotalDetections     int            `json:"total_detections"`
	SourcesWithCoverage int            `json:"sources_with_coverage"`
}

// TacticCoverage groups the technique rows of one tactic.
type TacticCoverage struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	ShortName      string              `json:"short_name"`
	Techniques     []TechniqueCoverage `json:"techniques"`
	TechniqueCount int                 `json:"technique_count"`
}

// SourceCoverage summarizes one source's share of the matrix.
type SourceCoverage struct {
	CoveredTechniques int `json:"covered_techniques"`
	TotalTechniques   int `json:"total_techniques"`
	CoveragePercent   int `json:"coverage_percent"`
}

// CoverageSummary is the roll-up block of a coverage matrix.
type CoverageSummary struct {
	TotalTactics           int                       `json:"total_tactics"`
	TotalTechniques        int                       `json:"total_techniques"`
	TechniquesWithCoverage int                       `json:"techniques_with_any_coverage"`
	OverallCoveragePercent int                       `json:"overall_coverage_percent"`
	SourceCoverage         map[string]SourceCoverage `json:"source_coverage"`
	// UnmappedTechniques lists technique IDs found on records that neither
	// exist in the taxonomy nor have a deprecation remapping. They are
	// reported, never silently dropped.
	UnmappedTechniques []string `json:"unmapped_techniques,omitempty"`
}

// CoverageMatrix is the tactic × technique × source cross-tabulation. It is
// a derived view recomputed on demand, never a source of truth.
type CoverageMatrix struct {
	Sources []string         `json:"sources"`
	Tactics []TacticCoverage `json:"tactics"`
	Summary CoverageSummary  `json:"summary"`
}

// CoverageOptions controls a matrix build.
type CoverageOptions struct {
	// Sources restricts the matrix to a subset of vendors; empty means all
	// sources present in the store.
	Sources []string `json:"sources,omitempty"`
	// IncludeSubtechniques lists sub-technique rows and rolls their counts
	// up into the parent technique totals.
	IncludeSubtechniques bool `json:"include_subtechniques"`
	// Tactic restricts the matrix to a single tactic ID.
	Tactic string `json:"tactic,omitempty"`
}

// GapResult is the pairwise coverage comparison of two sources.
type GapResult struct {
	BaseSource            string `json:"base_source"`
	CompareSource         string `json:"compare_source"`
	BaseTechniqueCount    int    `json:"base_technique_count"`
	CompareTechniqueCount int    `json:"compare_technique_count"`
	OverlapCount          int    `json:"overlap_count"`
	// Gaps holds techniques the base source detects that the comparison
	// source does not.
	Gaps            []string `json:"gaps"`
	UniqueToCompare []string `json:"unique_to_compare"`
}

// FieldDiff is the cross-record comparison of a single field.
type FieldDiff struct {
	Field   string   `json:"field"`
	Values  []string `json:"values"` // one canonical value per record, record order
	Differs bool     `json:"differs"`
}

// DiffResult is the side-by-side comparison panel for 2-6 records.
type DiffResult struct {
	Records []*DetectionRecord `json:"records"`
	Fields  []FieldDiff        `json:"fields"`
}

// ExportFormat selects the export serialization.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ExportRequest selects records and a format for export. Exactly one of IDs
// or Filters is honored; non-empty IDs win.
type ExportRequest struct {
	Format     ExportFormat   `json:"format" validate:"required,oneof=json csv"`
	IDs        []string       `json:"ids,omitempty"`
	Filters    *SearchFilters `json:"filters,omitempty"`
	IncludeRaw bool           `json:"include_raw"`
}

package models

import "time"

// Source identifies the vendor content repository a detection was ingested from.
type Source string

const (
	SourceSigma              Source = "sigma"
	SourceElastic            Source = "elastic"
	SourceElasticProtections Source = "elastic_protections"
	SourceElasticHunting     Source = "elastic_hunting"
	SourceSplunk             Source = "splunk"
	SourceSentinel           Source = "sentinel"
	SourceSublime            Source = "sublime"
	SourceLOLRMM             Source = "lolrmm"
)

// KnownSources is the fixed (but extensible) vendor set. Gap analysis and
// coverage filters validate source names against this list.
var KnownSources = []Source{
	SourceSigma,
	SourceElastic,
	SourceElasticProtections,
	SourceElasticHunting,
	SourceSplunk,
	SourceSentinel,
	SourceSublime,
	SourceLOLRMM,
}

// IsKnownSource reports whether s names a registered vendor.
func IsKnownSource(s string) bool {
	for _, k := range KnownSources {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Severity is the normalized rule severity, ordered critical > high > medium > low > unknown.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// severityRank orders severities for sorting. Higher is more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// Rank returns the ordinal used for severity sorting.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Status is the normalized rule lifecycle status.
type Status string

const (
	StatusStable       Status = "stable"
	StatusExperimental Status = "experimental"
	StatusDeprecated   Status = "deprecated"
	StatusUnknown      Status = "unknown"
)

// DetectionRecord is the normalized detection rule shared by every vendor
// source. Records are immutable once ingested; re-ingestion replaces them
// wholesale.
type DetectionRecord struct {
	ID     string `json:"id"`
	Source Source `json:"source"`

	// Rule identification
	RuleID   string `json:"rule_id,omitempty"`
	Title    string `json:"title"`
	Language string `json:"language"`

	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`

	// Classification
	Tags            []string `json:"tags"`
	MitreTactics    []string `json:"mitre_tactics"`
	MitreTechniques []string `json:"mitre_techniques"`
	LogSources      []string `json:"log_sources"`

	// Standardized log source taxonomy
	Platform             string `json:"platform,omitempty"`
	EventCategory        string `json:"event_category,omitempty"`
	DataSourceNormalized string `json:"data_source_normalized,omitempty"`

	// Rule body
	DetectionLogic string `json:"detection_logic"`
	RawContent     string `json:"raw_content,omitempty"`

	References     []string `json:"references,omitempty"`
	FalsePositives []string `json:"false_positives,omitempty"`

	// Provenance
	SourceFile    string `json:"source_file"`
	SourceRepoURL string `json:"source_repo_url,omitempty"`
	SourceRuleURL string `json:"source_rule_url,omitempty"`

	// Rule dates as reported by the vendor, nil when the rule carries none
	RuleCreatedDate  *time.Time `json:"rule_created_date,omitempty"`
	RuleModifiedDate *time.Time `json:"rule_modified_date,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SortOrder is the direction of a sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SearchFilters is the query specification for the detection store. Facet
// lists combine OR-within-field, AND-across-fields. It is never persisted.
type SearchFilters struct {
	// Free-text search across title, description, detection logic and author
	// (case-insensitive substring match)
	Search string `json:"search,omitempty"`

	Sources    []string `json:"sources,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
	Severities []string `json:"severities,omitempty"`
	Languages  []string `json:"languages,omitempty"`

	MitreTactics    []string `json:"mitre_tactics,omitempty"`
	MitreTechniques []string `json:"mitre_techniques,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	LogSources []string `json:"log_sources,omitempty"`

	Platforms             []string `json:"platforms,omitempty"`
	EventCategories       []string `json:"event_categories,omitempty"`
	DataSourcesNormalized []string `json:"data_sources_normalized,omitempty"`

	Offset    int       `json:"offset"`
	Limit     int       `json:"limit"`
	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// SortableFields are the accepted values for SearchFilters.SortBy. Anything
// else falls back to title ascending.
var SortableFields = []string{
	"title",
	"severity",
	"source",
	"status",
	"rule_created_date",
	"rule_modified_date",
}

// SearchResult is one page of matching records plus the pre-pagination total.
// Offset and Limit are the values the store actually applied after clamping,
// not the ones requested.
type SearchResult struct {
	Items  []*DetectionRecord `json:"items"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

// FacetField is one entry of the fixed facet configuration table consumed by
// the search engine and surfaced to API clients building filter UIs.
type FacetField struct {
	Field         string   `json:"field"`
	Label         string   `json:"label"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// FacetConfig is the facet table for the detection store. Fields without
// AllowedValues are open vocabularies populated from the data.
func FacetConfig() []FacetField {
	sources := make([]string, len(KnownSources))
	for i, s := range KnownSources {
		sources[i] = string(s)
	}
	return []FacetField{
		{Field: "sources", Label: "Source", AllowedValues: sources},
		{Field: "statuses", Label: "Status", AllowedValues: []string{
			string(StatusStable), string(StatusExperimental), string(StatusDeprecated), string(StatusUnknown),
		}},
		{Field: "severities", Label: "Severity", AllowedValues: []string{
			string(SeverityCritical), string(SeverityHigh), string(SeverityMedium), string(SeverityLow), string(SeverityUnknown),
		}},
		{Field: "languages", Label: "Language"},
		{Field: "mitre_tactics", Label: "MITRE Tactic"},
		{Field: "mitre_techniques", Label: "MITRE Technique"},
		{Field: "tags", Label: "Tag"},
		{Field: "log_sources", Label: "Log Source"},
		{Field: "platforms", Label: "Platform"},
		{Field: "event_categories", Label: "Event Category"},
		{Field: "data_sources_normalized", Label: "Data Source"},
	}
}

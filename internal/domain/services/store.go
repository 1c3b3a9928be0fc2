package services

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// storeSnapshot is an immutable, fully indexed view of the record set. A new
// snapshot is built off to the side on every ingestion and swapped in with a
// single atomic pointer store, so readers never block.
type storeSnapshot struct {
	records []*models.DetectionRecord
	byID    map[string]*models.DetectionRecord
	// byTechnique holds, per remapped technique ID, the distinct record count
	// per source. Remapping happens at snapshot build time, never per query.
	byTechnique map[string]map[string]int
	bySource    map[string][]*models.DetectionRecord
	// byTacticTechnique holds the technique IDs records list under each
	// tactic, keyed by tactic ID. The coverage matrix shows these pairings as
	// authored even when the taxonomy places a technique elsewhere.
	byTacticTechnique map[string]map[string]bool
	// unmapped lists technique IDs on records that resolve to nothing in the
	// taxonomy even after remapping.
	unmapped  []string
	builtAt   time.Time
}

// DetectionStore is the in-memory detection record store. All reads are
// served from the current snapshot; ReplaceAll installs a new one.
type DetectionStore struct {
	logger   *logger.Logger
	taxonomy *MITREService
	snap     atomic.Pointer[storeSnapshot]
}

// NewDetectionStore creates an empty store bound to a taxonomy index.
func NewDetectionStore(taxonomy *MITREService, log *logger.Logger) *DetectionStore {
	s := &DetectionStore{
		logger:   log.WithComponent("detection-store"),
		taxonomy: taxonomy,
	}
	s.snap.Store(buildSnapshot(nil, taxonomy))
	return s
}

// ReplaceAll swaps in a snapshot built from the given records. The slice is
// owned by the store afterwards and must not be mutated by the caller.
func (s *DetectionStore) ReplaceAll(records []*models.DetectionRecord) {
	snap := buildSnapshot(records, s.taxonomy)
	s.snap.Store(snap)
	s.logger.Info().
		Int("records", len(snap.records)).
		Int("techniques", len(snap.byTechnique)).
		Int("unmapped", len(snap.unmapped)).
		Msg("detection snapshot replaced")
}

func buildSnapshot(records []*models.DetectionRecord, taxonomy *MITREService) *storeSnapshot {
	snap := &storeSnapshot{
		records:           records,
		byID:              make(map[string]*models.DetectionRecord, len(records)),
		byTechnique:       make(map[string]map[string]int),
		bySource:          make(map[string][]*models.DetectionRecord),
		byTacticTechnique: make(map[string]map[string]bool),
		builtAt:           time.Now(),
	}

	unmappedSet := make(map[string]bool)
	for _, rec := range records {
		snap.byID[rec.ID] = rec
		src := string(rec.Source)
		snap.bySource[src] = append(snap.bySource[src], rec)

		// A record listing a technique twice still counts once.
		seen := make(map[string]bool, len(rec.MitreTechniques))
		valid := make([]string, 0, len(rec.MitreTechniques))
		for _, raw := range rec.MitreTechniques {
			id, ok := taxonomy.MapTechnique(raw)
			if !ok {
				unmappedSet[id] = true
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if ok {
				valid = append(valid, id)
			}
			perSource := snap.byTechnique[id]
			if perSource == nil {
				perSource = make(map[string]int)
				snap.byTechnique[id] = perSource
			}
			perSource[src]++
		}

		for _, rawTactic := range rec.MitreTactics {
			tacticID := strings.ToUpper(strings.TrimSpace(rawTactic))
			if tacticID == "" || len(valid) == 0 {
				continue
			}
			set := snap.byTacticTechnique[tacticID]
			if set == nil {
				set = make(map[string]bool, len(valid))
				snap.byTacticTechnique[tacticID] = set
			}
			for _, id := range valid {
				set[id] = true
			}
		}
	}

	snap.unmapped = make([]string, 0, len(unmappedSet))
	for id := range unmappedSet {
		snap.unmapped = append(snap.unmapped, id)
	}
	sort.Strings(snap.unmapped)

	return snap
}

// GetByID returns a record by its aggregate ID.
func (s *DetectionStore) GetByID(id string) (*models.DetectionRecord, error) {
	rec, ok := s.snap.Load().byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec, nil
}

// GetByIDs resolves IDs in request order. Any missing ID fails the whole call.
func (s *DetectionStore) GetByIDs(ids []string) ([]*models.DetectionRecord, error) {
	snap := s.snap.Load()
	records := make([]*models.DetectionRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := snap.byID[id]
		if !ok {
			return nil, models.ErrNotFound
		}
		records = append(records, rec)
	}
	return records, nil
}

// Sources returns the distinct source names present in the store, sorted.
func (s *DetectionStore) Sources() []string {
	snap := s.snap.Load()
	sources := make([]string, 0, len(snap.bySource))
	for src := range snap.bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// TechniqueCounts returns the per-source distinct record counts for every
// technique, keyed by remapped technique ID. The map is shared with the
// snapshot and must be treated as read-only.
func (s *DetectionStore) TechniqueCounts() (map[string]map[string]int, []string) {
	snap := s.snap.Load()
	return snap.byTechnique, snap.unmapped
}

// AuthoredTechniques returns the sorted technique IDs records list under a
// tactic. This reflects rule metadata as authored, not taxonomy membership.
func (s *DetectionStore) AuthoredTechniques(tacticID string) []string {
	snap := s.snap.Load()
	set := snap.byTacticTechnique[strings.ToUpper(tacticID)]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TechniquesOfSource returns the sorted set of remapped technique IDs that a
// source has at least one detection for.
func (s *DetectionStore) TechniquesOfSource(source string) []string {
	snap := s.snap.Load()
	var ids []string
	for id, perSource := range snap.byTechnique {
		if perSource[source] > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// BySource returns all records of a source. The slice is shared with the
// snapshot and must be treated as read-only.
func (s *DetectionStore) BySource(source string) []*models.DetectionRecord {
	return s.snap.Load().bySource[source]
}

// All returns every record in the current snapshot.
func (s *DetectionStore) All() []*models.DetectionRecord {
	return s.snap.Load().records
}

// Count returns the number of records in the current snapshot.
func (s *DetectionStore) Count() int {
	return len(s.snap.Load().records)
}

// BuiltAt returns when the current snapshot was built.
func (s *DetectionStore) BuiltAt() time.Time {
	return s.snap.Load().builtAt
}

// Query runs the full filter pipeline against the current snapshot: facet
// filters and free text narrow the set, then sorting and pagination shape the
// page. Total counts matches before pagination.
func (s *DetectionStore) Query(filters models.SearchFilters) models.SearchResult {
	snap := s.snap.Load()

	var matched []*models.DetectionRecord
	for _, rec := range snap.records {
		if matchesFilters(rec, &filters) {
			matched = append(matched, rec)
		}
	}

	sortRecords(matched, filters.SortBy, filters.SortOrder)

	total := len(matched)
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if offset >= total {
		return models.SearchResult{Items: []*models.DetectionRecord{}, Total: total, Offset: offset, Limit: limit}
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return models.SearchResult{Items: matched[offset:end], Total: total, Offset: offset, Limit: limit}
}

func matchesFilters(rec *models.DetectionRecord, f *models.SearchFilters) bool {
	if f.Search != "" && !matchesSearch(rec, f.Search) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, string(rec.Source)) {
		return false
	}
	if len(f.Statuses) > 0 && !containsString(f.Statuses, string(rec.Status)) {
		return false
	}
	if len(f.Severities) > 0 && !containsString(f.Severities, string(rec.Severity)) {
		return false
	}
	if len(f.Languages) > 0 && !containsString(f.Languages, rec.Language) {
		return false
	}
	if len(f.MitreTactics) > 0 && !intersects(rec.MitreTactics, f.MitreTactics) {
		return false
	}
	if len(f.MitreTechniques) > 0 && !intersects(rec.MitreTechniques, f.MitreTechniques) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(rec.Tags, f.Tags) {
		return false
	}
	if len(f.LogSources) > 0 && !intersects(rec.LogSources, f.LogSources) {
		return false
	}
	if len(f.Platforms) > 0 && !containsString(f.Platforms, rec.Platform) {
		return false
	}
	if len(f.EventCategories) > 0 && !containsString(f.EventCategories, rec.EventCategory) {
		return false
	}
	if len(f.DataSourcesNormalized) > 0 && !containsString(f.DataSourcesNormalized, rec.DataSourceNormalized) {
		return false
	}
	return true
}

// matchesSearch checks the free-text needle against title, description,
// detection logic and author, case-insensitively.
func matchesSearch(rec *models.DetectionRecord, needle string) bool {
	needle = strings.ToLower(needle)
	return strings.Contains(strings.ToLower(rec.Title), needle) ||
		strings.Contains(strings.ToLower(rec.Description), needle) ||
		strings.Contains(strings.ToLower(rec.DetectionLogic), needle) ||
		strings.Contains(strings.ToLower(rec.Author), needle)
}

func containsString(haystack []string, s string) bool {
	for _, h := range haystack {
		if h == s {
			return true
		}
	}
	return false
}

// intersects reports whether any wanted value appears in the record's list.
func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// sortRecords orders a result set in place. An unrecognized sort field falls
// back to title ascending rather than failing the query. Records missing a
// date sort after dated ones in both directions; ties break on title.
func sortRecords(records []*models.DetectionRecord, sortBy string, order models.SortOrder) {
	if !containsString(models.SortableFields, sortBy) {
		sortBy = "title"
		order = models.SortAsc
	}
	desc := order == models.SortDesc

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch sortBy {
		case "severity":
			if a.Severity.Rank() != b.Severity.Rank() {
				return lessOrdered(a.Severity.Rank() < b.Severity.Rank(), desc)
			}
		case "source":
			if a.Source != b.Source {
				return lessOrdered(a.Source < b.Source, desc)
			}
		case "status":
			if a.Status != b.Status {
				return lessOrdered(a.Status < b.Status, desc)
			}
		case "rule_created_date":
			if cmp, decided := compareDates(a.RuleCreatedDate, b.RuleCreatedDate, desc); decided {
				return cmp
			}
		case "rule_modified_date":
			if cmp, decided := compareDates(a.RuleModifiedDate, b.RuleModifiedDate, desc); decided {
				return cmp
			}
		default:
			if a.Title != b.Title {
				return lessOrdered(strings.ToLower(a.Title) < strings.ToLower(b.Title), desc)
			}
		}
		return strings.ToLower(a.Title) < strings.ToLower(b.Title)
	})
}

func lessOrdered(less, desc bool) bool {
	if desc {
		return !less
	}
	return less
}

// compareDates orders two nullable dates. Nil dates always sort last,
// regardless of direction. The second return is false on a tie.
func compareDates(a, b *time.Time, desc bool) (bool, bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case a.Equal(*b):
		return false, false
	default:
		return lessOrdered(a.Before(*b), desc), true
	}
}

package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// MatrixCache is the slice of the cache layer the coverage service needs.
// A nil cache disables caching entirely.
type MatrixCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CoverageService builds coverage matrices and pairwise gap analyses from the
// detection store and the taxonomy index. Matrices are derived views; the
// cache only shortcuts recomputation and is invalidated by TTL.
type CoverageService struct {
	logger   *logger.Logger
	taxonomy *MITREService
	store    *DetectionStore
	cache    MatrixCache
	cacheTTL time.Duration
}

// NewCoverageService wires a coverage service. cache may be nil.
func NewCoverageService(taxonomy *MITREService, store *DetectionStore, cache MatrixCache, cacheTTL time.Duration, log *logger.Logger) *CoverageService {
	return &CoverageService{
		logger:   log.WithComponent("coverage-service"),
		taxonomy: taxonomy,
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Build computes the tactic × technique × source coverage matrix. Tactics
// follow kill-chain order; technique rows are the taxonomy's techniques for
// each tactic. Sub-technique detection counts always roll up into the parent
// row; sub-technique rows themselves appear only when requested.
func (s *CoverageService) Build(ctx context.Context, opts models.CoverageOptions) (*models.CoverageMatrix, error) {
	if s.cache != nil {
		var cached models.CoverageMatrix
		if err := s.cache.GetJSON(ctx, s.cacheKey(opts), &cached); err == nil {
			return &cached, nil
		}
	}

	sources := s.store.Sources()
	if len(opts.Sources) > 0 {
		for _, src := range opts.Sources {
			if !models.IsKnownSource(src) {
				return nil, fmt.Errorf("%w: unknown source %q", models.ErrNotFound, src)
			}
		}
		sources = append([]string(nil), opts.Sources...)
		sort.Strings(sources)
	}

	var tacticFilter string
	if opts.Tactic != "" {
		tactic, ok := s.taxonomy.ResolveTactic(opts.Tactic)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tactic %q", models.ErrNotFound, opts.Tactic)
		}
		tacticFilter = tactic.ID
	}

	counts, unmapped := s.store.TechniqueCounts()

	matrix := &models.CoverageMatrix{Sources: sources}
	coveredIDs := make(map[string]bool)
	allIDs := make(map[string]bool)

	for _, tactic := range s.taxonomy.ListTactics() {
		if tacticFilter != "" && tactic.ID != tacticFilter {
			continue
		}

		tc := models.TacticCoverage{
			ID:        tactic.ID,
			Name:      tactic.Name,
			ShortName: tactic.ShortName,
		}

		inTactic := make(map[string]bool)
		for _, tech := range s.taxonomy.TechniquesByTactic(tactic.ID, false) {
			row := s.techniqueRow(tech, sources, counts, true)
			inTactic[tech.ID] = true
			allIDs[tech.ID] = true
			if row.TotalDetections > 0 {
				coveredIDs[tech.ID] = true
			}
			tc.Techniques = append(tc.Techniques, row)

			if opts.IncludeSubtechniques {
				for _, sub := range s.taxonomy.Subtechniques(tech.ID) {
					if sub.Deprecated || sub.Revoked {
						continue
					}
					subRow := s.techniqueRow(sub, sources, counts, false)
					inTactic[sub.ID] = true
					allIDs[sub.ID] = true
					if subRow.TotalDetections > 0 {
						coveredIDs[sub.ID] = true
					}
					tc.Techniques = append(tc.Techniques, subRow)
				}
			}
		}

		// Records sometimes list a technique under a tactic the taxonomy does
		// not place it in. The matrix reflects rule metadata as authored, so
		// those techniques still get a row under that tactic.
		for _, id := range s.store.AuthoredTechniques(tactic.ID) {
			tech, ok := s.taxonomy.ResolveTechnique(id)
			if !ok {
				continue
			}
			if tech.IsSubtechnique && !opts.IncludeSubtechniques && tech.ParentID != "" {
				if parent, found := s.taxonomy.ResolveTechnique(tech.ParentID); found {
					tech = parent
				}
			}
			if inTactic[tech.ID] {
				continue
			}
			inTactic[tech.ID] = true
			row := s.techniqueRow(tech, sources, counts, !tech.IsSubtechnique)
			allIDs[tech.ID] = true
			if row.TotalDetections > 0 {
				coveredIDs[tech.ID] = true
			}
			tc.Techniques = append(tc.Techniques, row)
		}

		// Tactics without any techniques in the loaded taxonomy carry no
		// information and would only pad the matrix.
		if len(tc.Techniques) == 0 {
			continue
		}
		tc.TechniqueCount = len(tc.Techniques)
		matrix.Tactics = append(matrix.Tactics, tc)
	}

	matrix.Summary = s.buildSummary(matrix, sources, allIDs, coveredIDs, counts, unmapped)

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, s.cacheKey(opts), matrix, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache coverage matrix")
		}
	}

	return matrix, nil
}

// techniqueRow builds one matrix row. rollup adds the counts of every
// sub-technique into the row; sub-technique rows pass rollup=false.
func (s *CoverageService) techniqueRow(tech *models.MITRETechnique, sources []string, counts map[string]map[string]int, rollup bool) models.TechniqueCoverage {
	row := models.TechniqueCoverage{
		ID:             tech.ID,
		Name:           tech.Name,
		IsSubtechnique: tech.IsSubtechnique,
		Coverage:       make(map[string]int, len(sources)),
	}

	ids := []string{tech.ID}
	if rollup {
		for _, sub := range s.taxonomy.Subtechniques(tech.ID) {
			ids = append(ids, sub.ID)
		}
	}

	for _, src := range sources {
		n := 0
		for _, id := range ids {
			n += counts[id][src]
		}
		row.Coverage[src] = n
		row.TotalDetections += n
		if n > 0 {
			row.SourcesWithCoverage++
		}
	}

	return row
}

func (s *CoverageService) buildSummary(matrix *models.CoverageMatrix, sources []string, allIDs, coveredIDs map[string]bool, counts map[string]map[string]int, unmapped []string) models.CoverageSummary {
	summary := models.CoverageSummary{
		TotalTactics:           len(matrix.Tactics),
		TotalTechniques:        len(allIDs),
		TechniquesWithCoverage: len(coveredIDs),
		SourceCoverage:         make(map[string]models.SourceCoverage, len(sources)),
		UnmappedTechniques:     unmapped,
	}

	summary.OverallCoveragePercent = roundPercent(len(coveredIDs), len(allIDs))

	for _, src := range sources {
		covered := 0
		for id := range allIDs {
			if techniqueCoveredBySource(id, src, counts, s.taxonomy) {
				covered++
			}
		}
		summary.SourceCoverage[src] = models.SourceCoverage{
			CoveredTechniques: covered,
			TotalTechniques:   len(allIDs),
			CoveragePercent:   roundPercent(covered, len(allIDs)),
		}
	}

	return summary
}

// techniqueCoveredBySource reports whether a source has any detection for a
// technique, counting sub-technique detections for parent rows.
func techniqueCoveredBySource(id, src string, counts map[string]map[string]int, taxonomy *MITREService) bool {
	if counts[id][src] > 0 {
		return true
	}
	if !strings.Contains(id, ".") {
		for _, sub := range taxonomy.Subtechniques(id) {
			if counts[sub.ID][src] > 0 {
				return true
			}
		}
	}
	return false
}

func roundPercent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func (s *CoverageService) cacheKey(opts models.CoverageOptions) string {
	srcs := append([]string(nil), opts.Sources...)
	sort.Strings(srcs)
	return fmt.Sprintf("coverage:matrix:%s:%t:%s", strings.Join(srcs, ","), opts.IncludeSubtechniques, strings.ToUpper(opts.Tactic))
}

// Gap compares the technique sets of two sources. Both directions are
// reported, so Gap(a, b) and Gap(b, a) mirror each other exactly.
func (s *CoverageService) Gap(ctx context.Context, baseSource, compareSource string) (*models.GapResult, error) {
	for _, src := range []string{baseSource, compareSource} {
		if !models.IsKnownSource(src) {
			return nil, fmt.Errorf("%w: unknown source %q (valid: %s)", models.ErrNotFound, src, joinKnownSources())
		}
	}

	baseSet := s.store.TechniquesOfSource(baseSource)
	compareSet := s.store.TechniquesOfSource(compareSource)

	compareLookup := make(map[string]bool, len(compareSet))
	for _, id := range compareSet {
		compareLookup[id] = true
	}
	baseLookup := make(map[string]bool, len(baseSet))
	for _, id := range baseSet {
		baseLookup[id] = true
	}

	result := &models.GapResult{
		BaseSource:            baseSource,
		CompareSource:         compareSource,
		BaseTechniqueCount:    len(baseSet),
		CompareTechniqueCount: len(compareSet),
		Gaps:                  []string{},
		UniqueToCompare:       []string{},
	}

	for _, id := range baseSet {
		if compareLookup[id] {
			result.OverlapCount++
		} else {
			result.Gaps = append(result.Gaps, id)
		}
	}
	for _, id := range compareSet {
		if !baseLookup[id] {
			result.UniqueToCompare = append(result.UniqueToCompare, id)
		}
	}

	return result, nil
}

func joinKnownSources() string {
	names := make([]string, len(models.KnownSources))
	for i, s := range models.KnownSources {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

const (
	minCompareRecords = 2
	maxCompareRecords = 6
)

// diffFields is the fixed field list of the side-by-side panel, in display
// order.
var diffFields = []string{
	"severity",
	"status",
	"language",
	"platform",
	"event_category",
	"data_source_normalized",
	"mitre_tactics",
	"mitre_techniques",
	"log_sources",
	"description",
	"detection_logic",
}

// CompareService builds side-by-side record comparisons.
type CompareService struct {
	logger *logger.Logger
	store  *DetectionStore
}

func NewCompareService(store *DetectionStore, log *logger.Logger) *CompareService {
	return &CompareService{
		logger: log.WithComponent("compare-service"),
		store:  store,
	}
}

// Diff compares 2 to 6 records field by field. List-valued fields compare as
// sets, so ordering differences between vendors never count as a difference.
// Records come back in request order.
func (s *CompareService) Diff(ids []string) (*models.DiffResult, error) {
	if len(ids) < minCompareRecords || len(ids) > maxCompareRecords {
		return nil, fmt.Errorf("%w: comparison requires %d to %d record ids, got %d",
			models.ErrInvalidSelection, minCompareRecords, maxCompareRecords, len(ids))
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate record id %q", models.ErrInvalidSelection, id)
		}
		seen[id] = true
	}

	records, err := s.store.GetByIDs(ids)
	if err != nil {
		return nil, err
	}

	result := &models.DiffResult{
		Records: records,
		Fields:  make([]models.FieldDiff, 0, len(diffFields)),
	}

	for _, field := range diffFields {
		diff := models.FieldDiff{Field: field, Values: make([]string, len(records))}
		for i, rec := range records {
			diff.Values[i] = canonicalFieldValue(rec, field)
		}
		for _, v := range diff.Values[1:] {
			if v != diff.Values[0] {
				diff.Differs = true
				break
			}
		}
		result.Fields = append(result.Fields, diff)
	}

	return result, nil
}

// canonicalFieldValue renders a field to a single comparable string.
// List fields are deduplicated and sorted first.
func canonicalFieldValue(rec *models.DetectionRecord, field string) string {
	switch field {
	case "severity":
		return string(rec.Severity)
	case "status":
		return string(rec.Status)
	case "language":
		return rec.Language
	case "platform":
		return rec.Platform
	case "event_category":
		return rec.EventCategory
	case "data_source_normalized":
		return rec.DataSourceNormalized
	case "mitre_tactics":
		return canonicalSet(rec.MitreTactics)
	case "mitre_techniques":
		return canonicalSet(rec.MitreTechniques)
	case "log_sources":
		return canonicalSet(rec.LogSources)
	case "description":
		return rec.Description
	case "detection_logic":
		return rec.DetectionLogic
	default:
		return ""
	}
}

func canonicalSet(values []string) string {
	if len(values) == 0 {
		return ""
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	unique := make([]string, 0, len(set))
	for v := range set {
		unique = append(unique, v)
	}
	sort.Strings(unique)
	return strings.Join(unique, ", ")
}

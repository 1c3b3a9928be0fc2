package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// exportColumns is the CSV header, in column order. JSON exports carry the
// same fields through the record's own JSON tags.
var exportColumns = []string{
	"id",
	"source",
	"rule_id",
	"title",
	"language",
	"description",
	"author",
	"severity",
	"status",
	"tags",
	"mitre_tactics",
	"mitre_techniques",
	"log_sources",
	"platform",
	"event_category",
	"data_source_normalized",
	"detection_logic",
	"references",
	"false_positives",
	"source_file",
	"source_repo_url",
	"source_rule_url",
	"rule_created_date",
	"rule_modified_date",
}

// ExportService streams record selections as JSON or CSV. Output is written
// record by record so large exports never buffer fully in memory.
type ExportService struct {
	logger   *logger.Logger
	store    *DetectionStore
	validate *validator.Validate
}

func NewExportService(store *DetectionStore, log *logger.Logger) *ExportService {
	return &ExportService{
		logger:   log.WithComponent("export-service"),
		store:    store,
		validate: validator.New(),
	}
}

// Export resolves the request's selection and streams it to w. Explicit IDs
// take precedence over filters; a request with neither is rejected. Filters
// export the complete match set, ignoring pagination.
func (s *ExportService) Export(ctx context.Context, w io.Writer, req models.ExportRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidSelection, err)
	}

	records, err := s.resolveSelection(req)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("format", string(req.Format)).
		Int("records", len(records)).
		Bool("include_raw", req.IncludeRaw).
		Msg("exporting detections")

	switch req.Format {
	case models.ExportCSV:
		return s.writeCSV(ctx, w, records, req.IncludeRaw)
	default:
		return s.writeJSON(ctx, w, records, req.IncludeRaw)
	}
}

func (s *ExportService) resolveSelection(req models.ExportRequest) ([]*models.DetectionRecord, error) {
	if len(req.IDs) > 0 {
		return s.store.GetByIDs(req.IDs)
	}
	if req.Filters == nil {
		return nil, fmt.Errorf("%w: export requires ids or filters", models.ErrInvalidSelection)
	}

	// Filter-driven exports cover the whole match set; pagination fields on
	// the filters are deliberately ignored.
	filters := *req.Filters
	filters.Offset = 0
	filters.Limit = 0

	var matched []*models.DetectionRecord
	for _, rec := range s.store.All() {
		if matchesFilters(rec, &filters) {
			matched = append(matched, rec)
		}
	}
	sortRecords(matched, filters.SortBy, filters.SortOrder)
	return matched, nil
}

// writeJSON streams a JSON array one record at a time.
func (s *ExportService) writeJSON(ctx context.Context, w io.Writer, records []*models.DetectionRecord, includeRaw bool) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return err
			}
		}
		// The rule body ships only on request; metadata exports stay small.
		out := rec
		if !includeRaw && (rec.RawContent != "" || rec.DetectionLogic != "") {
			clone := *rec
			clone.RawContent = ""
			clone.DetectionLogic = ""
			out = &clone
		}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "\n]\n")
	return err
}

func (s *ExportService) writeCSV(ctx context.Context, w io.Writer, records []*models.DetectionRecord, includeRaw bool) error {
	cw := csv.NewWriter(w)

	header := exportColumns
	if includeRaw {
		header = append(append([]string(nil), exportColumns...), "raw_content")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		logic := rec.DetectionLogic
		if !includeRaw {
			logic = ""
		}
		row := []string{
			rec.ID,
			string(rec.Source),
			rec.RuleID,
			rec.Title,
			rec.Language,
			rec.Description,
			rec.Author,
			string(rec.Severity),
			string(rec.Status),
			joinList(rec.Tags),
			joinList(rec.MitreTactics),
			joinList(rec.MitreTechniques),
			joinList(rec.LogSources),
			rec.Platform,
			rec.EventCategory,
			rec.DataSourceNormalized,
			logic,
			joinList(rec.References),
			joinList(rec.FalsePositives),
			rec.SourceFile,
			rec.SourceRepoURL,
			rec.SourceRuleURL,
			formatDate(rec.RuleCreatedDate),
			formatDate(rec.RuleModifiedDate),
		}
		if includeRaw {
			row = append(row, rec.RawContent)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// joinList renders a list column. The CSV writer handles quoting, so commas
// inside values are safe.
func joinList(values []string) string {
	return strings.Join(values, ", ")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

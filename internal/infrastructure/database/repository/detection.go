package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/database"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// DetectionRepository persists normalized detection records. The database is
// a warm-start mirror of the ingestion output; the in-memory snapshot remains
// the serving path.
type DetectionRepository struct {
	db     *database.PostgresDB
	logger *logger.Logger
}

// NewDetectionRepository creates a new detection repository
func NewDetectionRepository(db *database.PostgresDB, log *logger.Logger) *DetectionRepository {
	return &DetectionRepository{
		db:     db,
		logger: log.WithComponent("detection-repository"),
	}
}

const insertDetectionSQL = `
INSERT INTO detections (
	id, source, rule_id, title, language, description, author, severity,
	status, tags, mitre_tactics, mitre_techniques, log_sources, platform,
	event_category, data_source_normalized, detection_logic, raw_content,
	refs, false_positives, source_file, source_repo_url, source_rule_url,
	rule_created_date, rule_modified_date, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
	$17, $18, $19, $20, $21, $22, $23, $24, $25, $26
)`

// ReplaceSource swaps one source's records wholesale inside a transaction, so
// readers of the table never observe a partially ingested source.
func (r *DetectionRepository) ReplaceSource(ctx context.Context, source models.Source, records []*models.DetectionRecord) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM detections WHERE source = $1`, string(source)); err != nil {
			return fmt.Errorf("failed to clear source %s: %w", source, err)
		}

		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(insertDetectionSQL,
				rec.ID, string(rec.Source), rec.RuleID, rec.Title, rec.Language,
				rec.Description, rec.Author, string(rec.Severity), string(rec.Status),
				rec.Tags, rec.MitreTactics, rec.MitreTechniques, rec.LogSources,
				rec.Platform, rec.EventCategory, rec.DataSourceNormalized,
				rec.DetectionLogic, rec.RawContent, rec.References, rec.FalsePositives,
				rec.SourceFile, rec.SourceRepoURL, rec.SourceRuleURL,
				rec.RuleCreatedDate, rec.RuleModifiedDate, rec.UpdatedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range records {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug().Str("source", string(source)).Int("records", len(records)).Msg("replaced source records")
	return nil
}

// LoadAll returns every persisted record.
func (r *DetectionRepository) LoadAll(ctx context.Context) ([]*models.DetectionRecord, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, source, rule_id, title, language, description, author,
			severity, status, tags, mitre_tactics, mitre_techniques,
			log_sources, platform, event_category, data_source_normalized,
			detection_logic, raw_content, refs, false_positives, source_file,
			source_repo_url, source_rule_url, rule_created_date,
			rule_modified_date, updated_at
		FROM detections`)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []*models.DetectionRecord
	for rows.Next() {
		rec := &models.DetectionRecord{}
		var source, severity, status string
		if err := rows.Scan(
			&rec.ID, &source, &rec.RuleID, &rec.Title, &rec.Language,
			&rec.Description, &rec.Author, &severity, &status, &rec.Tags,
			&rec.MitreTactics, &rec.MitreTechniques, &rec.LogSources,
			&rec.Platform, &rec.EventCategory, &rec.DataSourceNormalized,
			&rec.DetectionLogic, &rec.RawContent, &rec.References,
			&rec.FalsePositives, &rec.SourceFile, &rec.SourceRepoURL,
			&rec.SourceRuleURL, &rec.RuleCreatedDate, &rec.RuleModifiedDate,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		rec.Source = models.Source(source)
		rec.Severity = models.Severity(severity)
		rec.Status = models.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}

	return records, nil
}

// CountBySource returns the persisted record count per source.
func (r *DetectionRepository) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT source, COUNT(*) FROM detections GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// elasticRule is the subset of the Elastic prebuilt rule JSON schema the
// normalizer consumes.
type elasticRule struct {
	RuleID         string          `json:"rule_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Author         []string        `json:"author"`
	Severity       string          `json:"severity"`
	Type           string          `json:"type"`
	Language       string          `json:"language"`
	Query          string          `json:"query"`
	Tags           []string        `json:"tags"`
	References     []string        `json:"references"`
	FalsePositives []string        `json:"false_positives"`
	Index          []string        `json:"index"`
	Threat         []elasticThreat `json:"threat"`
}

// elasticThreat is the ATT&CK mapping block Elastic uses in both its JSON
// detection rules and its TOML behavior rules.
type elasticThreat struct {
	Framework string `json:"framework" toml:"framework"`
	Tactic    struct {
		ID   string `json:"id" toml:"id"`
		Name string `json:"name" toml:"name"`
	} `json:"tactic" toml:"tactic"`
	Technique []struct {
		ID           string `json:"id" toml:"id"`
		Subtechnique []struct {
			ID string `json:"id" toml:"id"`
		} `json:"subtechnique" toml:"subtechnique"`
	} `json:"technique" toml:"technique"`
}

// mitreFromThreats flattens threat blocks into deduplicated tactic and
// technique ID lists. Blocks naming a framework other than ATT&CK are
// skipped; behavior rules often omit the framework field entirely.
func mitreFromThreats(threats []elasticThreat) (tactics, techniques []string) {
	seenTactic := make(map[string]bool)
	seenTechnique := make(map[string]bool)
	for _, threat := range threats {
		if threat.Framework != "" && !strings.EqualFold(threat.Framework, "MITRE ATT&CK") {
			continue
		}
		if threat.Tactic.ID != "" && !seenTactic[threat.Tactic.ID] {
			seenTactic[threat.Tactic.ID] = true
			tactics = append(tactics, threat.Tactic.ID)
		}
		for _, tech := range threat.Technique {
			if tech.ID != "" && !seenTechnique[tech.ID] {
				seenTechnique[tech.ID] = true
				techniques = append(techniques, tech.ID)
			}
			for _, sub := range tech.Subtechnique {
				if sub.ID != "" && !seenTechnique[sub.ID] {
					seenTechnique[sub.ID] = true
					techniques = append(techniques, sub.ID)
				}
			}
		}
	}
	return tactics, techniques
}

// ElasticConnector parses a detection-rules checkout, where every rule is a
// standalone JSON document. The protections and hunting repositories ship
// TOML instead and have their own connectors.
type ElasticConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewElasticConnector(log *logger.Logger) *ElasticConnector {
	return &ElasticConnector{
		BaseConnector: NewBaseConnector("elastic", "Elastic Detection Rules", models.SourceElastic),
		logger:        log.WithComponent("elastic-connector"),
	}
}

// Fetch walks the configured checkout and parses every JSON rule file.
func (c *ElasticConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s connector has no repository path configured", c.Slug())
	}

	start := time.Now()
	result := &FetchResult{Source: c.Source(), FetchedAt: start}

	err := filepath.WalkDir(cfg.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable elastic rule")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s repository: %w", c.Slug(), err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *ElasticConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule elasticRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if rule.Name == "" || rule.Query == "" {
		return nil, fmt.Errorf("missing name or query")
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	tactics, techniques := mitreFromThreats(rule.Threat)

	language := rule.Language
	if language == "" {
		language = rule.Type
	}

	return &models.DetectionRecord{
		ID:                   recordID(c.Source(), rule.RuleID, relPath),
		Source:               c.Source(),
		RuleID:               rule.RuleID,
		Title:                rule.Name,
		Language:             language,
		Description:          rule.Description,
		Author:               strings.Join(rule.Author, ", "),
		Severity:             normalizeSeverity(rule.Severity),
		Status:               models.StatusStable,
		Tags:                 rule.Tags,
		MitreTactics:         tactics,
		MitreTechniques:      techniques,
		LogSources:           rule.Index,
		Platform:             platformFromTags(rule.Tags),
		EventCategory:        rule.Type,
		DataSourceNormalized: dataSourceFromIndexes(rule.Index),
		DetectionLogic:       rule.Query,
		RawContent:           string(data),
		References:           rule.References,
		FalsePositives:       rule.FalsePositives,
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// platformFromTags picks the OS/platform out of Elastic's "OS: Windows"
// style tags.
func platformFromTags(tags []string) string {
	for _, tag := range tags {
		if rest, ok := strings.CutPrefix(tag, "OS: "); ok {
			return strings.ToLower(rest)
		}
	}
	for _, tag := range tags {
		if rest, ok := strings.CutPrefix(tag, "Domain: "); ok {
			return strings.ToLower(rest)
		}
	}
	return ""
}

func dataSourceFromIndexes(indexes []string) string {
	for _, idx := range indexes {
		switch {
		case strings.HasPrefix(idx, "logs-endpoint"), strings.HasPrefix(idx, "winlogbeat"):
			return "endpoint"
		case strings.HasPrefix(idx, "logs-network"), strings.HasPrefix(idx, "packetbeat"):
			return "network"
		case strings.HasPrefix(idx, "logs-aws"), strings.HasPrefix(idx, "logs-azure"), strings.HasPrefix(idx, "logs-gcp"), strings.HasPrefix(idx, "logs-okta"), strings.HasPrefix(idx, "logs-o365"):
			return "cloud"
		case strings.HasPrefix(idx, "auditbeat"), strings.HasPrefix(idx, "logs-auditd"):
			return "audit"
		}
	}
	if len(indexes) > 0 {
		return indexes[0]
	}
	return ""
}

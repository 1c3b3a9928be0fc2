package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// splunkRule is the subset of the Splunk security_content detection schema
// the normalizer consumes.
type splunkRule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Date        string   `yaml:"date"`
	Status      string   `yaml:"status"`
	Search      string   `yaml:"search"`
	Type        string   `yaml:"type"`
	DataSources []string `yaml:"data_source"`
	References  []string `yaml:"references"`
	KnownFP     string   `yaml:"known_false_positives"`
	Tags        struct {
		AnalyticStory  []string `yaml:"analytic_story"`
		MitreAttackID  []string `yaml:"mitre_attack_id"`
		SecurityDomain string   `yaml:"security_domain"`
		RiskScore      int      `yaml:"risk_score"`
	} `yaml:"tags"`
}

// SplunkConnector parses a Splunk security_content checkout.
type SplunkConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewSplunkConnector(log *logger.Logger) *SplunkConnector {
	return &SplunkConnector{
		BaseConnector: NewBaseConnector("splunk", "Splunk Security Content", models.SourceSplunk),
		logger:        log.WithComponent("splunk-connector"),
	}
}

// Fetch walks the configured checkout and parses every YAML detection file.
func (c *SplunkConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("splunk connector has no repository path configured")
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
			name := d.Name()
			if name == "deprecated" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yml" && ext != ".yaml" {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable splunk detection")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk splunk repository: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *SplunkConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule splunkRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if rule.Name == "" || rule.Search == "" {
		return nil, fmt.Errorf("missing name or search")
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	// mitre_attack_id mixes techniques and sub-techniques, never tactics.
	var techniques []string
	seen := make(map[string]bool)
	for _, id := range rule.Tags.MitreAttackID {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" && !seen[id] {
			seen[id] = true
			techniques = append(techniques, id)
		}
	}

	var falsePositives []string
	if rule.KnownFP != "" {
		falsePositives = []string{rule.KnownFP}
	}

	return &models.DetectionRecord{
		ID:                   recordID(models.SourceSplunk, rule.ID, relPath),
		Source:               models.SourceSplunk,
		RuleID:               rule.ID,
		Title:                rule.Name,
		Language:             "spl",
		Description:          rule.Description,
		Author:               rule.Author,
		Severity:             severityFromRiskScore(rule.Tags.RiskScore),
		Status:               normalizeStatus(rule.Status),
		Tags:                 rule.Tags.AnalyticStory,
		MitreTechniques:      techniques,
		LogSources:           rule.DataSources,
		Platform:             rule.Tags.SecurityDomain,
		EventCategory:        rule.Type,
		DataSourceNormalized: splunkDataSource(rule.DataSources),
		DetectionLogic:       rule.Search,
		RawContent:           string(data),
		References:           rule.References,
		FalsePositives:       falsePositives,
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		RuleCreatedDate:      parseRuleDate(rule.Date),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// severityFromRiskScore buckets Splunk's 0-100 risk score onto the shared
// severity scale, following the breakpoints ES itself uses.
func severityFromRiskScore(score int) models.Severity {
	switch {
	case score >= 80:
		return models.SeverityCritical
	case score >= 50:
		return models.SeverityHigh
	case score >= 25:
		return models.SeverityMedium
	case score > 0:
		return models.SeverityLow
	default:
		return models.SeverityUnknown
	}
}

func splunkDataSource(dataSources []string) string {
	for _, ds := range dataSources {
		lower := strings.ToLower(ds)
		switch {
		case strings.Contains(lower, "sysmon"), strings.Contains(lower, "process"):
			return "process"
		case strings.Contains(lower, "network"), strings.Contains(lower, "dns"):
			return "network"
		case strings.Contains(lower, "registry"):
			return "registry"
		case strings.Contains(lower, "cloudtrail"), strings.Contains(lower, "azure"), strings.Contains(lower, "o365"):
			return "cloud"
		case strings.Contains(lower, "windows event"):
			return "windows_event"
		}
	}
	if len(dataSources) > 0 {
		return strings.ToLower(dataSources[0])
	}
	return ""
}

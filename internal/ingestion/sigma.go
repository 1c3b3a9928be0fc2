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

// sigmaRule is the subset of the Sigma YAML schema the normalizer consumes.
type sigmaRule struct {
	ID          string                 `yaml:"id"`
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Status      string                 `yaml:"status"`
	Author      string                 `yaml:"author"`
	Level       string                 `yaml:"level"`
	Date        string                 `yaml:"date"`
	Modified    string                 `yaml:"modified"`
	Tags        []string               `yaml:"tags"`
	References  []string               `yaml:"references"`
	LogSource   sigmaLogSource         `yaml:"logsource"`
	Detection   map[string]interface{} `yaml:"detection"`
	FalsePos    []string               `yaml:"falsepositives"`
}

type sigmaLogSource struct {
	Product  string `yaml:"product"`
	Category string `yaml:"category"`
	Service  string `yaml:"service"`
}

// SigmaConnector parses a SigmaHQ rules checkout.
type SigmaConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewSigmaConnector(log *logger.Logger) *SigmaConnector {
	return &SigmaConnector{
		BaseConnector: NewBaseConnector("sigma", "Sigma Rules", models.SourceSigma),
		logger:        log.WithComponent("sigma-connector"),
	}
}

// Fetch walks the configured checkout and parses every YAML rule file.
func (c *SigmaConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sigma connector has no repository path configured")
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
			// Deprecated and unsupported rule trees stay out of the index.
			name := d.Name()
			if name == "deprecated" || name == "unsupported" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable sigma rule")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk sigma repository: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *SigmaConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule sigmaRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if rule.Title == "" || len(rule.Detection) == 0 {
		return nil, fmt.Errorf("missing title or detection section")
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	tactics, techniques, tags := extractMITRETags(rule.Tags)

	detectionLogic, err := yaml.Marshal(rule.Detection)
	if err != nil {
		return nil, fmt.Errorf("failed to render detection section: %w", err)
	}

	var logSources []string
	for _, v := range []string{rule.LogSource.Product, rule.LogSource.Category, rule.LogSource.Service} {
		if v != "" {
			logSources = append(logSources, v)
		}
	}

	return &models.DetectionRecord{
		ID:                   recordID(models.SourceSigma, rule.ID, relPath),
		Source:               models.SourceSigma,
		RuleID:               rule.ID,
		Title:                rule.Title,
		Language:             "sigma",
		Description:          rule.Description,
		Author:               rule.Author,
		Severity:             normalizeSeverity(rule.Level),
		Status:               normalizeStatus(rule.Status),
		Tags:                 tags,
		MitreTactics:         tactics,
		MitreTechniques:      techniques,
		LogSources:           logSources,
		Platform:             rule.LogSource.Product,
		EventCategory:        rule.LogSource.Category,
		DataSourceNormalized: normalizeDataSource(rule.LogSource.Product, rule.LogSource.Category, rule.LogSource.Service),
		DetectionLogic:       strings.TrimSpace(string(detectionLogic)),
		RawContent:           string(data),
		References:           rule.References,
		FalsePositives:       rule.FalsePos,
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		RuleCreatedDate:      parseRuleDate(rule.Date),
		RuleModifiedDate:     parseRuleDate(rule.Modified),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// normalizeDataSource folds the logsource triple into the standardized
// data-source vocabulary shared across vendors.
func normalizeDataSource(product, category, service string) string {
	switch {
	case category == "process_creation":
		return "process"
	case category == "network_connection" || category == "dns_query" || category == "proxy" || category == "firewall":
		return "network"
	case category == "file_event" || category == "file_change" || category == "file_delete":
		return "file"
	case category == "registry_event" || category == "registry_set" || category == "registry_add" || category == "registry_delete":
		return "registry"
	case category == "image_load" || category == "driver_load":
		return "module"
	case service == "security" || service == "system" || service == "application" || category == "antivirus":
		return "windows_event"
	case product == "aws" || product == "azure" || product == "gcp" || product == "m365" || product == "okta":
		return "cloud"
	case category != "":
		return category
	case service != "":
		return service
	default:
		return product
	}
}

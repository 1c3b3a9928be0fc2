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

// sentinelRule is the subset of the Sentinel analytics rule YAML schema the
// normalizer consumes. Tactics come as names ("DefenseEvasion"), techniques
// as IDs.
type sentinelRule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Severity    string   `yaml:"severity"`
	Status      string   `yaml:"status"`
	Kind        string   `yaml:"kind"`
	Query       string   `yaml:"query"`
	Tactics     []string `yaml:"tactics"`
	Techniques  []string `yaml:"relevantTechniques"`
	Connectors  []struct {
		ConnectorID string   `yaml:"connectorId"`
		DataTypes   []string `yaml:"dataTypes"`
	} `yaml:"requiredDataConnectors"`
}

// SentinelConnector parses a Microsoft Sentinel content checkout. Analytics
// rules live in per-solution "Analytic Rules" directories; hunting queries
// and everything else in the repository are skipped.
type SentinelConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewSentinelConnector(log *logger.Logger) *SentinelConnector {
	return &SentinelConnector{
		BaseConnector: NewBaseConnector("sentinel", "Microsoft Sentinel Analytics Rules", models.SourceSentinel),
		logger:        log.WithComponent("sentinel-connector"),
	}
}

// Fetch walks the configured checkout and parses every scheduled analytics
// rule under the Solutions tree.
func (c *SentinelConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sentinel connector has no repository path configured")
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
			name := strings.ToLower(d.Name())
			if name == "deprecated" || name == "test" || name == "tests" || name == "sample data" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yml" && ext != ".yaml" {
			return nil
		}
		pathLower := strings.ToLower(filepath.ToSlash(path))
		if !strings.Contains(pathLower, "solutions") || !strings.Contains(pathLower, "analytic") {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable sentinel rule")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk sentinel repository: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *SentinelConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule sentinelRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if rule.Name == "" || rule.Query == "" {
		return nil, fmt.Errorf("missing name or query")
	}

	// Only scheduled and near-real-time rules are detections. Hunting and
	// other kinds that share the directory layout are skipped.
	kind := strings.ToLower(rule.Kind)
	if kind != "" && kind != "scheduled" && kind != "nrt" {
		return nil, fmt.Errorf("not a scheduled rule (kind=%s)", rule.Kind)
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	var tactics []string
	seenTactic := make(map[string]bool)
	for _, name := range rule.Tactics {
		if id, ok := tacticIDFromName(name); ok && !seenTactic[id] {
			seenTactic[id] = true
			tactics = append(tactics, id)
		}
	}

	var techniques []string
	seenTechnique := make(map[string]bool)
	for _, raw := range rule.Techniques {
		id := strings.ToUpper(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, "T") {
			id = "T" + id
		}
		if !seenTechnique[id] {
			seenTechnique[id] = true
			techniques = append(techniques, id)
		}
	}

	var dataTypes []string
	var connectorIDs []string
	for _, connector := range rule.Connectors {
		if connector.ConnectorID != "" {
			connectorIDs = append(connectorIDs, connector.ConnectorID)
		}
		dataTypes = append(dataTypes, connector.DataTypes...)
	}
	platform := sentinelPlatform(connectorIDs)

	return &models.DetectionRecord{
		ID:                   recordID(c.Source(), rule.ID, relPath),
		Source:               c.Source(),
		RuleID:               rule.ID,
		Title:                rule.Name,
		Language:             "kql",
		Description:          strings.TrimSpace(rule.Description),
		Author:               "Microsoft",
		Severity:             normalizeSeverity(rule.Severity),
		Status:               normalizeStatus(rule.Status),
		MitreTactics:         tactics,
		MitreTechniques:      techniques,
		LogSources:           dataTypes,
		Platform:             platform,
		EventCategory:        "sentinel",
		DataSourceNormalized: sentinelDataSource(platform),
		DetectionLogic:       rule.Query,
		RawContent:           string(data),
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// sentinelPlatform reads the monitored platform off the required data
// connectors. Sentinel rules default to Azure when no connector says
// otherwise.
func sentinelPlatform(connectorIDs []string) string {
	joined := strings.ToLower(strings.Join(connectorIDs, " "))
	switch {
	case strings.Contains(joined, "aws"):
		return "aws"
	case strings.Contains(joined, "gcp"), strings.Contains(joined, "google"):
		return "gcp"
	case strings.Contains(joined, "office"), strings.Contains(joined, "o365"):
		return "office365"
	case strings.Contains(joined, "azuread"), strings.Contains(joined, "entra"):
		return "azure_ad"
	case strings.Contains(joined, "defender"):
		return "defender"
	default:
		return "azure"
	}
}

func sentinelDataSource(platform string) string {
	if platform == "defender" {
		return "endpoint"
	}
	return "cloud"
}

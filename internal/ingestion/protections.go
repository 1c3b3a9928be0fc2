package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// protectionsRule is the subset of the protections-artifacts behavior rule
// TOML schema the normalizer consumes. The threat and actions tables sit next
// to the rule table, not inside it.
type protectionsRule struct {
	Rule struct {
		ID          string   `toml:"id"`
		Name        string   `toml:"name"`
		Description string   `toml:"description"`
		Query       string   `toml:"query"`
		OSList      []string `toml:"os_list"`
	} `toml:"rule"`
	Threat  []elasticThreat `toml:"threat"`
	Actions []struct {
		Action string `toml:"action"`
	} `toml:"actions"`
}

// ProtectionsConnector parses an Elastic protections-artifacts checkout.
// Behavior rules are TOML documents with a [rule] table and EQL queries.
type ProtectionsConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewProtectionsConnector(log *logger.Logger) *ProtectionsConnector {
	return &ProtectionsConnector{
		BaseConnector: NewBaseConnector("elastic_protections", "Elastic Protections Artifacts", models.SourceElasticProtections),
		logger:        log.WithComponent("elastic-protections-connector"),
	}
}

// Fetch walks the configured checkout and parses every behavior rule. The
// repository also carries YARA signatures and tooling, so only TOML files
// under a behavior directory are considered.
func (c *ProtectionsConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("elastic_protections connector has no repository path configured")
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
			if name == "deprecated" || name == "test" || name == "tests" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".toml" || !strings.Contains(strings.ToLower(path), "behavior") {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable behavior rule")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk elastic_protections repository: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *ProtectionsConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule protectionsRule
	if err := toml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid toml: %w", err)
	}
	if rule.Rule.Name == "" {
		return nil, fmt.Errorf("missing rule name")
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	tactics, techniques := mitreFromThreats(rule.Threat)

	tags := []string{"behavior_rule", "endpoint_protection"}
	for _, osName := range rule.Rule.OSList {
		if osName != "" {
			tags = append(tags, strings.ToLower(osName))
		}
	}

	return &models.DetectionRecord{
		ID:                   recordID(c.Source(), rule.Rule.ID, relPath),
		Source:               c.Source(),
		RuleID:               rule.Rule.ID,
		Title:                rule.Rule.Name,
		Language:             "eql",
		Description:          rule.Rule.Description,
		Author:               "Elastic",
		Severity:             severityFromActions(rule),
		Status:               models.StatusStable,
		Tags:                 tags,
		MitreTactics:         tactics,
		MitreTechniques:      techniques,
		Platform:             protectionsPlatform(relPath, rule.Rule.OSList),
		EventCategory:        "behavior",
		DataSourceNormalized: "endpoint",
		DetectionLogic:       rule.Rule.Query,
		RawContent:           string(data),
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// severityFromActions rates a behavior rule by what it does on match. Rules
// that terminate or block run in enforcement and rank high; the rest alert
// only and stay medium.
func severityFromActions(rule protectionsRule) models.Severity {
	for _, action := range rule.Actions {
		if action.Action == "terminate_process" || action.Action == "block" {
			return models.SeverityHigh
		}
	}
	return models.SeverityMedium
}

func protectionsPlatform(relPath string, osList []string) string {
	candidates := []string{strings.ToLower(filepath.ToSlash(relPath))}
	for _, osName := range osList {
		candidates = append(candidates, strings.ToLower(osName))
	}
	for _, platform := range []string{"windows", "linux", "macos"} {
		for _, candidate := range candidates {
			if strings.Contains(candidate, platform) {
				return platform
			}
		}
	}
	return "cross_platform"
}

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

// huntingRule is the subset of the hunting query TOML schema the normalizer
// consumes. A single [hunt] table carries the metadata and a list of query
// strings.
type huntingRule struct {
	Hunt struct {
		UUID        string   `toml:"uuid"`
		Name        string   `toml:"name"`
		Author      string   `toml:"author"`
		Description string   `toml:"description"`
		Integration []string `toml:"integration"`
		Language    []string `toml:"language"`
		Query       []string `toml:"query"`
		Notes       []string `toml:"notes"`
		MITRE       []string `toml:"mitre"`
		References  []string `toml:"references"`
	} `toml:"hunt"`
}

// huntingQuerySeparator joins a hunt's query list into one logic block.
const huntingQuerySeparator = "\n\n---\n\n"

// HuntingConnector parses the hunting queries in an Elastic detection-rules
// checkout. Hunts carry technique IDs directly instead of threat blocks and
// have no severity of their own.
type HuntingConnector struct {
	*BaseConnector
	logger *logger.Logger
}

func NewHuntingConnector(log *logger.Logger) *HuntingConnector {
	return &HuntingConnector{
		BaseConnector: NewBaseConnector("elastic_hunting", "Elastic Hunting Queries", models.SourceElasticHunting),
		logger:        log.WithComponent("elastic-hunting-connector"),
	}
}

// Fetch walks the configured checkout and parses every TOML hunt under a
// hunting directory.
func (c *HuntingConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	cfg := c.Config()
	if cfg.Path == "" {
		return nil, fmt.Errorf("elastic_hunting connector has no repository path configured")
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
		if filepath.Ext(path) != ".toml" || !strings.Contains(strings.ToLower(path), "hunting") {
			return nil
		}

		rec, parseErr := c.parseFile(path, cfg)
		if parseErr != nil {
			result.FilesFailed++
			c.logger.Debug().Err(parseErr).Str("file", path).Msg("skipping unparseable hunting query")
			return nil
		}
		result.Records = append(result.Records, rec)
		result.FilesParsed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk elastic_hunting repository: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *HuntingConnector) parseFile(path string, cfg ConnectorConfig) (*models.DetectionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule huntingRule
	if err := toml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid toml: %w", err)
	}
	hunt := rule.Hunt
	if hunt.Name == "" {
		return nil, fmt.Errorf("missing hunt name")
	}

	relPath, relErr := filepath.Rel(cfg.Path, path)
	if relErr != nil {
		relPath = path
	}

	// The mitre field is a flat list of technique IDs, never tactics.
	var techniques []string
	seen := make(map[string]bool)
	for _, id := range hunt.MITRE {
		id = strings.ToUpper(strings.TrimSpace(id))
		if strings.HasPrefix(id, "T") && !seen[id] {
			seen[id] = true
			techniques = append(techniques, id)
		}
	}

	language := "ES|QL"
	if len(hunt.Language) > 0 {
		language = hunt.Language[0]
	}

	description := hunt.Description
	if len(hunt.Notes) > 0 {
		var sb strings.Builder
		sb.WriteString(description)
		sb.WriteString("\n\nNotes:\n")
		for _, note := range hunt.Notes {
			sb.WriteString("- " + note + "\n")
		}
		description = strings.TrimRight(sb.String(), "\n")
	}

	author := hunt.Author
	if author == "" {
		author = "Elastic"
	}

	tags := []string{"hunting_query", "threat_hunting"}
	for _, integration := range hunt.Integration {
		if integration != "" {
			tags = append(tags, strings.ToLower(integration))
		}
	}

	platform := huntingPlatform(relPath, hunt.Integration)

	return &models.DetectionRecord{
		ID:                   recordID(c.Source(), hunt.UUID, relPath),
		Source:               c.Source(),
		RuleID:               hunt.UUID,
		Title:                hunt.Name,
		Language:             language,
		Description:          description,
		Author:               author,
		Severity:             models.SeverityMedium,
		Status:               models.StatusStable,
		Tags:                 tags,
		MitreTechniques:      techniques,
		LogSources:           hunt.Integration,
		Platform:             platform,
		EventCategory:        "hunting",
		DataSourceNormalized: huntingDataSource(platform),
		DetectionLogic:       strings.Join(hunt.Query, huntingQuerySeparator),
		RawContent:           string(data),
		References:           hunt.References,
		SourceFile:           relPath,
		SourceRepoURL:        cfg.RepoURL,
		SourceRuleURL:        ruleURL(cfg.RepoURL, cfg.Branch, filepath.ToSlash(relPath)),
		UpdatedAt:            time.Now().UTC(),
	}, nil
}

// huntingPlatform reads the platform from the directory layout first and the
// integration list second.
func huntingPlatform(relPath string, integrations []string) string {
	pathLower := strings.ToLower(filepath.ToSlash(relPath))
	for _, platform := range []string{"windows", "linux", "macos", "aws", "azure", "okta", "llm", "cross-platform"} {
		if strings.Contains(pathLower, "/"+platform+"/") || strings.HasPrefix(pathLower, platform+"/") {
			return strings.ReplaceAll(platform, "-", "_")
		}
	}
	for _, integration := range integrations {
		lower := strings.ToLower(integration)
		switch {
		case lower == "okta":
			return "okta"
		case strings.Contains(lower, "aws"):
			return "aws"
		case strings.Contains(lower, "azure"):
			return "azure"
		}
	}
	return "endpoint"
}

func huntingDataSource(platform string) string {
	switch platform {
	case "aws", "azure", "okta":
		return "cloud"
	default:
		return "endpoint"
	}
}

package ingestion

import (
	"context"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
)

// Connector parses one vendor rule repository checkout into normalized
// detection records.
type Connector interface {
	// Slug returns the unique identifier for this connector
	Slug() string

	// Name returns the human-readable name of this connector
	Name() string

	// Source returns the vendor source the connector produces records for
	Source() models.Source

	// Fetch walks the configured repository path and parses its rules
	Fetch(ctx context.Context) (*FetchResult, error)

	// IsEnabled returns whether this connector is enabled
	IsEnabled() bool

	// Configure configures the connector with the given config
	Configure(cfg ConnectorConfig) error
}

// ConnectorConfig holds configuration for a connector
type ConnectorConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	RepoURL string `json:"repo_url,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// FetchResult is the outcome of one connector run. Parse failures of single
// files are counted and logged, never fatal for the run.
type FetchResult struct {
	Source      models.Source             `json:"source"`
	Records     []*models.DetectionRecord `json:"-"`
	FilesParsed int                       `json:"files_parsed"`
	FilesFailed int                       `json:"files_failed"`
	Duration    time.Duration             `json:"duration"`
	FetchedAt   time.Time                 `json:"fetched_at"`
}

// BaseConnector provides common functionality for connectors
type BaseConnector struct {
	slug   string
	name   string
	source models.Source
	config ConnectorConfig
}

// NewBaseConnector creates a new base connector
func NewBaseConnector(slug, name string, source models.Source) *BaseConnector {
	return &BaseConnector{
		slug:   slug,
		name:   name,
		source: source,
	}
}

// Slug returns the unique identifier for this connector
func (c *BaseConnector) Slug() string {
	return c.slug
}

// Name returns the human-readable name of this connector
func (c *BaseConnector) Name() string {
	return c.name
}

// Source returns the vendor source the connector produces records for
func (c *BaseConnector) Source() models.Source {
	return c.source
}

// IsEnabled returns whether this connector is enabled
func (c *BaseConnector) IsEnabled() bool {
	return c.config.Enabled
}

// Configure configures the connector
func (c *BaseConnector) Configure(cfg ConnectorConfig) error {
	c.config = cfg
	return nil
}

// Config returns the current configuration
func (c *BaseConnector) Config() ConnectorConfig {
	return c.config
}

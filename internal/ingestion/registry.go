package ingestion

import (
	"fmt"
	"sync"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/config"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// Registry manages all rule repository connectors
type Registry struct {
	connectors map[string]Connector
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewRegistry creates a new connector registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     log.WithComponent("ingestion-registry"),
	}
}

// Register registers a connector
func (r *Registry) Register(connector Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := connector.Slug()
	if _, exists := r.connectors[slug]; exists {
		return fmt.Errorf("connector already registered: %s", slug)
	}

	r.connectors[slug] = connector
	r.logger.Info().
		Str("slug", slug).
		Str("name", connector.Name()).
		Str("source", string(connector.Source())).
		Msg("registered connector")

	return nil
}

// Get returns a connector by slug
func (r *Registry) Get(slug string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[slug]
	return conn, ok
}

// List returns all registered connectors
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connector, 0, len(r.connectors))
	for _, conn := range r.connectors {
		conns = append(conns, conn)
	}
	return conns
}

// ListEnabled returns all enabled connectors
func (r *Registry) ListEnabled() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connector, 0)
	for _, conn := range r.connectors {
		if conn.IsEnabled() {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of registered connectors
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// ConfigureFromIngestionConfig applies repo configuration from the config file
func (r *Registry) ConfigureFromIngestionConfig(cfg config.IngestionConfig) {
	for slug, repoCfg := range cfg.Repos {
		connCfg := ConnectorConfig{
			Enabled: repoCfg.Enabled,
			Path:    repoCfg.Path,
			RepoURL: repoCfg.RepoURL,
			Branch:  repoCfg.Branch,
		}

		conn, ok := r.Get(slug)
		if !ok {
			r.logger.Debug().Str("slug", slug).Msg("connector not registered, skipping config")
			continue
		}
		if err := conn.Configure(connCfg); err != nil {
			r.logger.Warn().Err(err).Str("slug", slug).Msg("failed to configure connector")
			continue
		}
		r.logger.Debug().Str("slug", slug).Bool("enabled", repoCfg.Enabled).Msg("configured connector")
	}
}

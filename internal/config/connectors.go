package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/disaster-ingest/internal/domain"
)

type connectorsFile struct {
	Connectors []connectorEntry `yaml:"connectors"`
}

type connectorEntry struct {
	Type         string `yaml:"type"`
	SourceURL    string `yaml:"source_url"`
	EventFilter  string `yaml:"event_filter"`
	HazardFilter string `yaml:"hazard_filter"`
	ImpactFilter string `yaml:"impact_filter"`
}

// LoadConnectors reads the connector seed file and returns the connectors to
// register at startup. Every entry needs a known type and a source URL.
func LoadConnectors(path string) ([]domain.Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connectors file: %w", err)
	}
	return parseConnectors(data)
}

func parseConnectors(data []byte) ([]domain.Connector, error) {
	var file connectorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse connectors file: %w", err)
	}
	if len(file.Connectors) == 0 {
		return nil, fmt.Errorf("connectors file defines no connectors")
	}

	seen := make(map[domain.ConnectorType]bool, len(file.Connectors))
	connectors := make([]domain.Connector, 0, len(file.Connectors))
	for i, entry := range file.Connectors {
		typ := domain.ConnectorType(entry.Type)
		if !typ.Valid() {
			return nil, fmt.Errorf("connectors[%d]: unknown connector type %q", i, entry.Type)
		}
		if seen[typ] {
			return nil, fmt.Errorf("connectors[%d]: duplicate connector type %q", i, entry.Type)
		}
		if entry.SourceURL == "" {
			return nil, fmt.Errorf("connectors[%d]: source_url is required", i)
		}
		seen[typ] = true

		connectors = append(connectors, domain.Connector{
			Type:         typ,
			SourceURL:    entry.SourceURL,
			Status:       domain.StatusInitialized,
			EventFilter:  entry.EventFilter,
			HazardFilter: entry.HazardFilter,
			ImpactFilter: entry.ImpactFilter,
		})
	}
	return connectors, nil
}

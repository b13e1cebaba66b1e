package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/grundsalg/internal/domain"
)

type sourcesFile struct {
	Sources []domain.Source `yaml:"sources"`
}

// LoadSources reads and validates the source registry at path
func LoadSources(path string) ([]domain.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	return ParseSources(data)
}

// ParseSources decodes a YAML registry and validates every entry
func ParseSources(data []byte) ([]domain.Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if err := ValidateSources(f.Sources); err != nil {
		return nil, err
	}
	return f.Sources, nil
}

// ValidateSources enforces unique IDs, a known strategy and an absolute http(s) URL
func ValidateSources(sources []domain.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("sources: registry is empty")
	}

	ids := make(map[string]bool, len(sources))
	for i, s := range sources {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		ids[s.ID] = true

		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("source %s: name is required", s.ID)
		}
		if !s.Strategy.Valid() {
			return fmt.Errorf("source %s: unknown type %q", s.ID, s.Strategy)
		}
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source %s: invalid url %q", s.ID, s.URL)
		}
	}
	return nil
}

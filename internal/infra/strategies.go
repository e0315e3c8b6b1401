package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cluster_go/internal/domain"
)

type strategiesFile struct {
	Engines []domain.EngineConfig `yaml:"engines"`
}

// LoadStrategies parses strategies.yaml into validated engine configs.
// Disabled engines are kept (they still reconcile and manage positions),
// duplicate IDs are an error because the ID scopes executor queries.
func LoadStrategies(path string) ([]domain.EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigNotFound, err)
	}

	var file strategiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}
	if len(file.Engines) == 0 {
		return nil, fmt.Errorf("no engines configured in %s", path)
	}

	seen := make(map[int]string)
	for i := range file.Engines {
		cfg := &file.Engines[i]
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("engine %q: %w", cfg.Name, err)
		}
		if other, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("engine %q: id %d already used by %q", cfg.Name, cfg.ID, other)
		}
		seen[cfg.ID] = cfg.Name
	}
	return file.Engines, nil
}

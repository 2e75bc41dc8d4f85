package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a workflow configuration from the given YAML file path.
// After parsing, it applies defaults to phases that don't specify their own values.
func Load(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a workflow config in standard locations and loads the
// first one found. Search order: ./evolve.yaml, ~/.evoforge/config.yaml
func LoadDefault() (*WorkflowConfig, error) {
	candidates := []string{"evolve.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".evoforge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no workflow config found (searched: %v)", candidates)
}

// applyDefaults merges workflow-level defaults into phases that don't set their
// own values and fills in hard defaults for unset knobs.
func applyDefaults(cfg *WorkflowConfig) {
	w := &cfg.Workflow

	if w.Defaults.Timeout == "" {
		w.Defaults.Timeout = "30m"
	}
	if w.Defaults.MaxRetries <= 0 {
		w.Defaults.MaxRetries = 3
	}
	if w.Defaults.MaxRetriesPerTier <= 0 {
		w.Defaults.MaxRetriesPerTier = 3
	}
	if w.Defaults.HeartbeatInterval == "" {
		w.Defaults.HeartbeatInterval = "20s"
	}
	if w.Environments.Validation.Timeout == "" {
		w.Environments.Validation.Timeout = "10m"
	}

	for i := range w.Phases {
		p := &w.Phases[i]

		if p.Worker == "" && w.Defaults.Worker != "" {
			p.Worker = w.Defaults.Worker
		}
		if p.Timeout == "" {
			p.Timeout = w.Defaults.Timeout
		}
		if p.Name == "" {
			p.Name = p.ID
		}
	}
}

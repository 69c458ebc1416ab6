package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RefSpec names a model in the pairs file. Workspace is optional; without it
// the directory scans the tenant for the model.
type RefSpec struct {
	Model     string `yaml:"model"`
	Workspace string `yaml:"workspace"`
}

// PairSpec is one configured source→target promotion. EstimatedDeltaBytes
// feeds the capacity check; zero means unknown.
type PairSpec struct {
	Source              RefSpec `yaml:"source"`
	Target              RefSpec `yaml:"target"`
	EstimatedDeltaBytes int64   `yaml:"estimatedDeltaBytes"`
}

type pairsFile struct {
	Pairs []PairSpec `yaml:"pairs"`
}

// LoadPairs reads the YAML pairs file and validates that every entry names
// both models.
func LoadPairs(path string) ([]PairSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	var parsed pairsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse pairs file %s: %w", path, err)
	}
	for i, p := range parsed.Pairs {
		if p.Source.Model == "" || p.Target.Model == "" {
			return nil, fmt.Errorf("pair %d in %s: source and target models required", i+1, path)
		}
	}
	return parsed.Pairs, nil
}

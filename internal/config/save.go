package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cadbridge/internal/onshape"
)

// Save writes cfg to path as YAML, replacing any existing file.
func Save(path string, cfg Config) error {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFile(path, encoded)
}

// SaveExportDefaults persists export preferences into the file at path,
// keeping every other key already present.
func SaveExportDefaults(path string, opts onshape.ExportOptions) error {
	existing := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("parse config file: %w", err)
			}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read config file: %w", err)
	}
	if existing == nil {
		existing = map[string]any{}
	}

	existing["export"] = map[string]string{
		"scale":     opts.Scale,
		"units":     opts.Units,
		"angle":     opts.AngleTolerance,
		"chord":     opts.ChordTolerance,
		"max_facet": opts.MaxFacetWidth,
		"min_facet": opts.MinFacetWidth,
	}

	encoded, err := yaml.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFile(path, encoded)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

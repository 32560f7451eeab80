package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays a YAML file onto cfg. A missing path is not an error —
// the file overlay is optional; env vars (LoadEnv) and defaults still apply.
func LoadFile(cfg *Config, path string) (*Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds a Config from defaults, an optional YAML file at path, then
// environment variables, in that precedence order (env wins).
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := LoadFile(cfg, path); err != nil {
		return nil, err
	}
	return LoadEnv(cfg), nil
}

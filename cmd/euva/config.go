package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// hostConfig is the optional persisted host state. The core itself persists
// nothing; this remembers paths between invocations.
type hostConfig struct {
	LastScript string   `yaml:"last_script,omitempty"`
	SigDB      string   `yaml:"sigdb,omitempty"`
	Plugins    []string `yaml:"plugins,omitempty"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "euva", "config.yaml")
}

func loadConfig() hostConfig {
	var cfg hostConfig
	path := configPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	yaml.Unmarshal(data, &cfg)
	return cfg
}

func saveConfig(cfg hostConfig) {
	path := configPath()
	if path == "" {
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, data, 0o644)
}

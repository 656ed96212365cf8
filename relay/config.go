// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the relay daemon's YAML configuration.
type FileConfig struct {
	// ListenAddr is the TCP listen address. Defaults to ":7897".
	ListenAddr string `yaml:"listen_addr"`

	// StorePath is the SQLite database path for durable persistence.
	// Empty runs the relay forward-only, with no store.
	StorePath string `yaml:"store_path"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("relay: reading config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("relay: parsing config %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7897"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return FileConfig{}, fmt.Errorf("relay: invalid log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

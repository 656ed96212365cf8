// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "127.0.0.1:9900"
store_path: "/var/loom/relay.db"
log_level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9900" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.StorePath != "/var/loom/relay.db" {
		t.Errorf("StorePath = %q", cfg.StorePath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":7897" {
		t.Errorf("ListenAddr = %q, want :7897", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadLevel(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "log_level: loud")); err == nil {
		t.Error("LoadConfig accepted invalid log_level")
	}
}

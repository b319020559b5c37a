package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigAppliesLoggingFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info","format":"text"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	originalPath, originalLevel, originalFormat := configPath, logLevel, logFormat
	t.Cleanup(func() {
		configPath, logLevel, logFormat = originalPath, originalLevel, originalFormat
	})

	configPath = path
	logLevel = "debug"
	logFormat = "json"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	original := configPath
	t.Cleanup(func() {
		configPath = original
	})

	configPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "preview": false, "targets": false}
	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %q is not registered", name)
		}
	}
}

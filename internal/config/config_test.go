package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Retries != 2 {
		t.Errorf("Retries = %d, want 2", cfg.Retries)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogDir != "logs" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.MergeTimeout != 120*time.Second {
		t.Errorf("MergeTimeout = %v, want 2m0s", cfg.MergeTimeout)
	}
	if cfg.GroupTimeout != 0 {
		t.Errorf("GroupTimeout = %v, want 0", cfg.GroupTimeout)
	}
	if len(cfg.ThumbnailPrefixes) != 2 || cfg.ThumbnailPrefixes[0] != "thumb64_" || cfg.ThumbnailPrefixes[1] != "thumb256_" {
		t.Errorf("ThumbnailPrefixes = %v", cfg.ThumbnailPrefixes)
	}
	if cfg.History.Enabled {
		t.Error("history should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoadConfigValidFile tests loading a fully populated YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	path := writeConfig(t, `retries: 4
log_level: debug
log_dir: /tmp/logs
work_dir: /tmp/work
baseline_store: /mnt/baselines/Smoke
stitch_tool: /opt/usd/bin/usdstitch
merge_timeout: 90s
group_timeout: 2h
aggregate_strict: true
stub_image_dir: /opt/stubs
thumbnail_prefixes: [thumb32_]
history:
  enabled: true
  db_path: /tmp/history.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Retries != 4 {
		t.Errorf("Retries = %d, want 4", cfg.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogDir != "/tmp/logs" || cfg.WorkDir != "/tmp/work" {
		t.Errorf("dirs = %q, %q", cfg.LogDir, cfg.WorkDir)
	}
	if cfg.BaselineStore != "/mnt/baselines/Smoke" {
		t.Errorf("BaselineStore = %q", cfg.BaselineStore)
	}
	if cfg.StitchTool != "/opt/usd/bin/usdstitch" {
		t.Errorf("StitchTool = %q", cfg.StitchTool)
	}
	if cfg.MergeTimeout != 90*time.Second {
		t.Errorf("MergeTimeout = %v, want 90s", cfg.MergeTimeout)
	}
	if cfg.GroupTimeout != 2*time.Hour {
		t.Errorf("GroupTimeout = %v, want 2h", cfg.GroupTimeout)
	}
	if !cfg.AggregateStrict {
		t.Error("AggregateStrict = false, want true")
	}
	if cfg.StubImageDir != "/opt/stubs" {
		t.Errorf("StubImageDir = %q", cfg.StubImageDir)
	}
	if len(cfg.ThumbnailPrefixes) != 1 || cfg.ThumbnailPrefixes[0] != "thumb32_" {
		t.Errorf("ThumbnailPrefixes = %v", cfg.ThumbnailPrefixes)
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "/tmp/history.db" {
		t.Errorf("History = %+v", cfg.History)
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.Retries != 2 || cfg.LogLevel != "info" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

// TestLoadConfigInvalidYAML tests error handling for malformed YAML
func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, `
retries: 3
merge_timeout: [this is not valid
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() expected error for invalid YAML, got nil")
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	tests := []string{
		"merge_timeout: soon\n",
		"group_timeout: 10 minutes\n",
	}
	for _, content := range tests {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}

// TestLoadConfigPartialValues tests that partial config merges with defaults
func TestLoadConfigPartialValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log_level: warn\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Retries != 2 {
		t.Errorf("Retries = %d, want 2 (default)", cfg.Retries)
	}
	if cfg.MergeTimeout != 120*time.Second {
		t.Errorf("MergeTimeout = %v, want default", cfg.MergeTimeout)
	}
	if len(cfg.ThumbnailPrefixes) != 2 {
		t.Errorf("ThumbnailPrefixes = %v, want defaults", cfg.ThumbnailPrefixes)
	}
}

func TestLoadConfigExplicitZeroRetries(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "retries: 0\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Retries != 0 {
		t.Errorf("Retries = %d, want explicit 0", cfg.Retries)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("retries: 0 must fail validation")
	}
}

func TestLoadConfigHistorySection(t *testing.T) {
	t.Run("only enabled", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "history:\n  enabled: true\n"))
		if err != nil {
			t.Fatal(err)
		}
		if !cfg.History.Enabled {
			t.Error("History.Enabled = false, want true")
		}
		if cfg.History.DBPath != "history.db" {
			t.Errorf("DBPath = %q, want default", cfg.History.DBPath)
		}
	})

	t.Run("explicit empty db_path", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "history:\n  enabled: true\n  db_path: \"\"\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.History.DBPath != "" {
			t.Errorf("DBPath = %q, want empty", cfg.History.DBPath)
		}
		if err := cfg.Validate(); err == nil {
			t.Error("enabled history without db_path must fail validation")
		}
	})

	t.Run("section absent", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "retries: 3\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.History != DefaultConfig().History {
			t.Errorf("History = %+v, want defaults", cfg.History)
		}
	})
}

// TestMergeWithFlags tests CLI flag precedence over config values
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()

	retries := 5
	logLevel := "trace"
	logDir := "/custom/logs"
	stitch := "/bin/stitch"
	groupTimeout := 30 * time.Minute
	cfg.MergeWithFlags(&retries, &logLevel, &logDir, &stitch, &groupTimeout)

	if cfg.Retries != 5 {
		t.Errorf("Retries = %d, want 5", cfg.Retries)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel = %q, want trace", cfg.LogLevel)
	}
	if cfg.LogDir != "/custom/logs" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.StitchTool != "/bin/stitch" {
		t.Errorf("StitchTool = %q", cfg.StitchTool)
	}
	if cfg.GroupTimeout != 30*time.Minute {
		t.Errorf("GroupTimeout = %v", cfg.GroupTimeout)
	}
}

// TestMergeWithFlagsNil verifies nil flags leave config values alone
func TestMergeWithFlagsNil(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 3
	cfg.MergeWithFlags(nil, nil, nil, nil, nil)

	if cfg.Retries != 3 {
		t.Errorf("Retries = %d, want 3", cfg.Retries)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"one retry", func(c *Config) { c.Retries = 1 }, false},
		{"zero retries", func(c *Config) { c.Retries = 0 }, true},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"upper-case level", func(c *Config) { c.LogLevel = "DEBUG" }, false},
		{"empty level", func(c *Config) { c.LogLevel = "" }, true},
		{"zero merge timeout", func(c *Config) { c.MergeTimeout = 0 }, true},
		{"negative group timeout", func(c *Config) { c.GroupTimeout = -time.Second }, true},
		{"group timeout set", func(c *Config) { c.GroupTimeout = time.Hour }, false},
		{"history without path", func(c *Config) { c.History = HistoryConfig{Enabled: true} }, true},
		{"history disabled without path", func(c *Config) { c.History = HistoryConfig{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/rendertest/internal/logger"
)

// HistoryConfig represents attempt history configuration
type HistoryConfig struct {
	// Enabled turns on recording of every render attempt
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database.
	// Relative paths are resolved against the rendertest home.
	DBPath string `yaml:"db_path"`
}

// Config represents rendertest configuration options
type Config struct {
	// Retries is the maximum number of render attempts per case
	Retries int `yaml:"retries"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs will be written.
	// Relative paths are resolved against the rendertest home.
	LogDir string `yaml:"log_dir"`

	// WorkDir is the scratch directory the render tool writes into.
	// Empty means <output_dir>/render_work.
	WorkDir string `yaml:"work_dir"`

	// BaselineStore is the shared reference store. Empty means the
	// per-platform default for the test group.
	BaselineStore string `yaml:"baseline_store"`

	// StitchTool is the executable that merges settings overlays into scenes
	StitchTool string `yaml:"stitch_tool"`

	// MergeTimeout bounds a single stitch invocation
	MergeTimeout time.Duration `yaml:"merge_timeout"`

	// GroupTimeout bounds the whole batch (0 = unlimited)
	GroupTimeout time.Duration `yaml:"group_timeout"`

	// AggregateStrict makes malformed per-case reports fatal during aggregation
	AggregateStrict bool `yaml:"aggregate_strict"`

	// StubImageDir holds <status><ext> placeholder images copied at preparation
	StubImageDir string `yaml:"stub_image_dir"`

	// ThumbnailPrefixes are the thumbnail variants copied with baseline images
	ThumbnailPrefixes []string `yaml:"thumbnail_prefixes"`

	// History contains attempt history configuration
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Retries:           2,
		LogLevel:          "info",
		LogDir:            "logs",
		StitchTool:        "usdstitch",
		MergeTimeout:      120 * time.Second,
		GroupTimeout:      0, // Unlimited
		ThumbnailPrefixes: []string{"thumb64_", "thumb256_"},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "history.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are parsed by hand so "90s" and "2m" both work
	type yamlConfig struct {
		Retries           *int          `yaml:"retries"`
		LogLevel          string        `yaml:"log_level"`
		LogDir            string        `yaml:"log_dir"`
		WorkDir           string        `yaml:"work_dir"`
		BaselineStore     string        `yaml:"baseline_store"`
		StitchTool        string        `yaml:"stitch_tool"`
		MergeTimeout      string        `yaml:"merge_timeout"`
		GroupTimeout      string        `yaml:"group_timeout"`
		AggregateStrict   bool          `yaml:"aggregate_strict"`
		StubImageDir      string        `yaml:"stub_image_dir"`
		ThumbnailPrefixes []string      `yaml:"thumbnail_prefixes"`
		History           HistoryConfig `yaml:"history"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.Retries != nil {
		cfg.Retries = *yamlCfg.Retries
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.WorkDir != "" {
		cfg.WorkDir = yamlCfg.WorkDir
	}
	if yamlCfg.BaselineStore != "" {
		cfg.BaselineStore = yamlCfg.BaselineStore
	}
	if yamlCfg.StitchTool != "" {
		cfg.StitchTool = yamlCfg.StitchTool
	}
	if yamlCfg.MergeTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.MergeTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid merge_timeout format %q: %w", yamlCfg.MergeTimeout, err)
		}
		cfg.MergeTimeout = d
	}
	if yamlCfg.GroupTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.GroupTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid group_timeout format %q: %w", yamlCfg.GroupTimeout, err)
		}
		cfg.GroupTimeout = d
	}
	if yamlCfg.AggregateStrict {
		cfg.AggregateStrict = true
	}
	if yamlCfg.StubImageDir != "" {
		cfg.StubImageDir = yamlCfg.StubImageDir
	}
	if yamlCfg.ThumbnailPrefixes != nil {
		cfg.ThumbnailPrefixes = yamlCfg.ThumbnailPrefixes
	}

	// The history section is merged key by key so an explicit
	// "enabled: false" or empty db_path is not mistaken for absence
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if section, exists := rawMap["history"]; exists && section != nil {
			historyMap, _ := section.(map[string]interface{})
			if _, exists := historyMap["enabled"]; exists {
				cfg.History.Enabled = yamlCfg.History.Enabled
			}
			if _, exists := historyMap["db_path"]; exists {
				cfg.History.DBPath = yamlCfg.History.DBPath
			}
		}
	}

	return cfg, nil
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(retries *int, logLevel *string, logDir *string, stitchTool *string, groupTimeout *time.Duration) {
	if retries != nil {
		c.Retries = *retries
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if stitchTool != nil {
		c.StitchTool = *stitchTool
	}
	if groupTimeout != nil {
		c.GroupTimeout = *groupTimeout
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Retries < 1 {
		return fmt.Errorf("retries must be >= 1, got %d", c.Retries)
	}

	if !logger.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.MergeTimeout <= 0 {
		return fmt.Errorf("merge_timeout must be > 0, got %v", c.MergeTimeout)
	}

	// 0 disables the group timeout
	if c.GroupTimeout < 0 {
		return fmt.Errorf("group_timeout must be >= 0, got %v", c.GroupTimeout)
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}

	return nil
}

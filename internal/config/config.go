// Package config provides configuration loading and structs for embedsim runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level"`
	Input      InputConfig      `yaml:"input"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Histogram  HistogramConfig  `yaml:"histogram"`
	Output     OutputConfig     `yaml:"output"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
}

// InputConfig describes the tracker's association document.
type InputConfig struct {
	Path string `yaml:"path"`
	// TwoPass indexes track keys first and loads vectors only for sampled tracks.
	TwoPass *bool `yaml:"two_pass"`
}

// TwoPassOrDefault returns whether to load in two passes; defaults to true when unset.
func (i *InputConfig) TwoPassOrDefault() bool {
	if i.TwoPass != nil {
		return *i.TwoPass
	}
	return true
}

// SamplingConfig holds track sampling settings.
type SamplingConfig struct {
	SampleSize *int    `yaml:"sample_size"` // K; zero or negative selects no tracks
	Seed       *uint64 `yaml:"seed"`        // nil draws a random seed per run
}

// SampleSizeOrDefault returns K, defaulting to DefaultSampleSize when unset.
func (s *SamplingConfig) SampleSizeOrDefault() int {
	if s.SampleSize != nil {
		return *s.SampleSize
	}
	return DefaultSampleSize
}

// SimilarityConfig holds engine settings.
type SimilarityConfig struct {
	Workers int `yaml:"workers"`
}

// HistogramConfig holds binning settings.
type HistogramConfig struct {
	Bins int `yaml:"bins"`
}

// OutputConfig holds artifact locations. File names are relative to Directory;
// the name "none" disables an optional artifact (catalog, histogram reports).
type OutputConfig struct {
	Directory     string `yaml:"directory"`
	Mode          string `yaml:"mode"`
	IntraFile     string `yaml:"intra_file"`
	InterFile     string `yaml:"inter_file"`
	Catalog       string `yaml:"catalog"`
	HistogramJSON string `yaml:"histogram_json"`
	HistogramXLSX string `yaml:"histogram_xlsx"`
}

// Path joins name onto the output directory. Disabled artifacts return "".
func (o *OutputConfig) Path(name string) string {
	if name == "" || name == Disabled {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.Directory, name)
}

// WatchConfig holds settings for re-running on input changes.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// ServerConfig holds the address of the read-only results API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ChunkCache is how many chunks read back for pair lookups stay in memory; negative disables.
	ChunkCache int `yaml:"chunk_cache"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Input.Path = expandPath(cfg.Input.Path, configDir)
	cfg.Output.Directory = expandPath(cfg.Output.Directory, configDir)

	return &cfg, nil
}

// Default returns a config with every default applied, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Mode) {
	case "create", "append":
	default:
		return fmt.Errorf("invalid output.mode %q (want create or append)", c.Output.Mode)
	}
	if c.Histogram.Bins < 0 {
		return fmt.Errorf("invalid histogram.bins %d", c.Histogram.Bins)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Similarity.Workers < 0 {
		return fmt.Errorf("invalid similarity.workers %d", c.Similarity.Workers)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" (or "..") are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// Package config provides qaforge configuration loading with defaults and
// environment overrides. Configuration lives in a YAML file (typically
// .qaforge/config.yaml); a missing file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all qaforge configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Live probe configuration
	Probe ProbeConfig `yaml:"probe"`

	// Test execution configuration
	Execution ExecutionConfig `yaml:"execution"`

	// Scoring and prioritization weights
	Weights WeightsConfig `yaml:"weights"`

	// Run archive
	Store StoreConfig `yaml:"store"`

	// Export bundles
	Export ExportConfig `yaml:"export"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model completion capability.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// ProbeConfig configures live application discovery.
type ProbeConfig struct {
	Timeout        string `yaml:"timeout"`         // Per-probe timeout
	MaxConcurrency int    `yaml:"max_concurrency"` // Concurrent endpoint probes
	UseBrowser     bool   `yaml:"use_browser"`     // Drive a headless browser for UI discovery
	Headless       bool   `yaml:"headless"`
	MaxPages       int    `yaml:"max_pages"` // Page crawl budget for browser probing
}

// ExecutionConfig configures the test execution coordinator.
type ExecutionConfig struct {
	Strategy       string `yaml:"strategy"`        // dry_run or live
	PerTestTimeout string `yaml:"per_test_timeout"`
	RunTimeout     string `yaml:"run_timeout"` // Aggregate budget for the whole batch
}

// WeightsConfig holds the configurable weighting formulas. The precise
// weights are deliberately configuration, not constants; defaults are equal
// weights everywhere.
type WeightsConfig struct {
	// Composite risk priority weights per dimension, 0.0-1.0 each.
	RiskBusiness    float64 `yaml:"risk_business"`
	RiskTechnical   float64 `yaml:"risk_technical"`
	RiskSecurity    float64 `yaml:"risk_security"`
	RiskPerformance float64 `yaml:"risk_performance"`

	// Per-domain quality score blend.
	Coverage  float64 `yaml:"coverage"`
	PassRatio float64 `yaml:"pass_ratio"`
}

// StoreConfig configures the run archive database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ExportConfig configures bundle packaging.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig configures category file logging (see internal/logging).
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:      "gemini-2.5-flash",
			Timeout:    "120s",
			MaxRetries: 3,
		},
		Probe: ProbeConfig{
			Timeout:        "15s",
			MaxConcurrency: 8,
			UseBrowser:     false,
			Headless:       true,
			MaxPages:       10,
		},
		Execution: ExecutionConfig{
			Strategy:       "dry_run",
			PerTestTimeout: "30s",
			RunTimeout:     "10m",
		},
		Weights: WeightsConfig{
			RiskBusiness:    0.25,
			RiskTechnical:   0.25,
			RiskSecurity:    0.25,
			RiskPerformance: 0.25,
			Coverage:        0.5,
			PassRatio:       0.5,
		},
		Store: StoreConfig{
			DatabasePath: ".qaforge/runs.db",
		},
		Export: ExportConfig{
			OutputDir: ".qaforge/bundles",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("QAFORGE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("QAFORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("QAFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("QAFORGE_BUNDLE_DIR"); dir != "" {
		c.Export.OutputDir = dir
	}
}

// GetLLMTimeout returns the LLM call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetProbeTimeout returns the per-probe timeout as a duration.
func (c *Config) GetProbeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Probe.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetPerTestTimeout returns the per-test execution timeout as a duration.
func (c *Config) GetPerTestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.PerTestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRunTimeout returns the aggregate execution budget as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.RunTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// RiskWeights returns the composite risk weights normalized to sum to 1.
// Zero or negative configurations collapse to equal weights.
func (c *Config) RiskWeights() map[string]float64 {
	w := map[string]float64{
		"/business":    c.Weights.RiskBusiness,
		"/technical":   c.Weights.RiskTechnical,
		"/security":    c.Weights.RiskSecurity,
		"/performance": c.Weights.RiskPerformance,
	}
	var sum float64
	for _, v := range w {
		if v > 0 {
			sum += v
		}
	}
	if sum <= 0 {
		for k := range w {
			w[k] = 0.25
		}
		return w
	}
	for k, v := range w {
		if v < 0 {
			v = 0
		}
		w[k] = v / sum
	}
	return w
}

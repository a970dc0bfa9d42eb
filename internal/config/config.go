// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed describes where the two price streams come from.
type Feed struct {
	SpotProvider   string   `yaml:"spot_provider"`   // stub | binance
	OracleProvider string   `yaml:"oracle_provider"` // stub | http
	Symbols        []string `yaml:"symbols"`
	StubLagMs      int64    `yaml:"stub_lag_ms"`
	Oracle         Oracle   `yaml:"oracle"`
}

// Oracle configures the HTTP polling feed targeting a JSON price endpoint.
type Oracle struct {
	BaseURL        string `yaml:"base_url"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// Engine groups the tunable knobs of the lag-detection engine. All fields are
// fixed for the engine's lifetime once it is constructed.
type Engine struct {
	BufferMaxSize       int     `yaml:"buffer_max_size"`
	BufferMaxAgeMs      int64   `yaml:"buffer_max_age_ms"`
	CleanupInterval     int     `yaml:"cleanup_interval"`
	TauCandidatesMs     []int64 `yaml:"tau_candidates_ms"`
	ToleranceMs         int64   `yaml:"tolerance_ms"`
	SpotMoveWindowMs    int64   `yaml:"spot_move_window_ms"`
	MinMoveMagnitude    float64 `yaml:"min_move_magnitude"`
	MinCorrelation      float64 `yaml:"min_correlation"`
	StabilityWindowSize int     `yaml:"stability_window_size"`
	StabilityThreshold  float64 `yaml:"stability_threshold"`
	StaleThresholdMs    int64   `yaml:"stale_threshold_ms"`
	AnalysisIntervalMs  int     `yaml:"analysis_interval_ms"`
}

// Registry bounds the in-flight signal store and its persistence flush.
type Registry struct {
	MaxPending      int    `yaml:"max_pending"`
	FlushPath       string `yaml:"flush_path"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Feed     Feed     `yaml:"feed"`
	Engine   Engine   `yaml:"engine"`
	Registry Registry `yaml:"registry"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Package config provides configuration loading and validation for
// Kiln. Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a kilnd process.
type Config struct {
	Heap          HeapConfig          `yaml:"heap"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// HeapConfig describes heap geometry.
type HeapConfig struct {
	RegionBytes uint64 `yaml:"regionBytes" env:"KILN_REGION_BYTES"`
	RegionCount int    `yaml:"regionCount" env:"KILN_REGION_COUNT"`
}

// CleanupConfig tunes the cleanup pipeline.
type CleanupConfig struct {
	Workers          int  `yaml:"workers" env:"KILN_CLEANUP_WORKERS"`
	ChunksPerRegion  int  `yaml:"chunksPerRegion" env:"KILN_CHUNKS_PER_REGION"`
	ResizeTLABs      bool `yaml:"resizeTlabs" env:"KILN_RESIZE_TLABS"`
	SampleCandidates bool `yaml:"sampleCandidates" env:"KILN_SAMPLE_CANDIDATES"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"KILN_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"KILN_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"KILN_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Heap: HeapConfig{
			RegionBytes: 1 * 1024 * 1024, // 1MB
			RegionCount: 256,
		},
		Cleanup: CleanupConfig{
			Workers:          4,
			ChunksPerRegion:  8,
			ResizeTLABs:      true,
			SampleCandidates: true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides
// applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file, then applies environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KILN_REGION_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Heap.RegionBytes = n
		}
	}
	if v := os.Getenv("KILN_REGION_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Heap.RegionCount = n
		}
	}
	if v := os.Getenv("KILN_CLEANUP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cleanup.Workers = n
		}
	}
	if v := os.Getenv("KILN_CHUNKS_PER_REGION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cleanup.ChunksPerRegion = n
		}
	}
	if v := os.Getenv("KILN_RESIZE_TLABS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cleanup.ResizeTLABs = b
		}
	}
	if v := os.Getenv("KILN_SAMPLE_CANDIDATES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cleanup.SampleCandidates = b
		}
	}
	if v := os.Getenv("KILN_METRICS_ADDR"); v != "" {
		c.Observability.MetricsAddr = v
	}
	if v := os.Getenv("KILN_LOG_LEVEL"); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv("KILN_LOG_FORMAT"); v != "" {
		c.Observability.LogFormat = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Heap.RegionBytes == 0 || c.Heap.RegionBytes%8 != 0 {
		return fmt.Errorf("config: heap.regionBytes %d must be a positive multiple of 8", c.Heap.RegionBytes)
	}
	if c.Heap.RegionCount <= 0 {
		return fmt.Errorf("config: heap.regionCount %d must be positive", c.Heap.RegionCount)
	}
	if c.Cleanup.Workers <= 0 {
		return fmt.Errorf("config: cleanup.workers %d must be positive", c.Cleanup.Workers)
	}
	if c.Cleanup.ChunksPerRegion <= 0 {
		return fmt.Errorf("config: cleanup.chunksPerRegion %d must be positive", c.Cleanup.ChunksPerRegion)
	}
	return nil
}

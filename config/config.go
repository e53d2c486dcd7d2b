// Package config loads the preview tool configuration from YAML.
//
// Loading is fail-fast: a config that parses but does not validate is
// rejected at startup rather than surfacing as a misbehaving pipeline
// later. Missing optional values are filled with defaults during
// validation, so a loaded Config is always complete.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete preview tool configuration.
type Config struct {
	Playback  PlaybackConfig  `yaml:"playback"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Stream    StreamConfig    `yaml:"stream"`
	Source    SourceConfig    `yaml:"source"`
}

// PlaybackConfig contains playback pacing settings.
type PlaybackConfig struct {
	BufferSize  int     `yaml:"buffer_size"`  // prefetch window capacity (default: number of CPUs)
	NominalRate float64 `yaml:"nominal_rate"` // persisted pacing override in fps; 0 keeps the stream rate
	Unlimited   bool    `yaml:"unlimited"`    // present frames as fast as they decode
}

// BenchmarkConfig contains benchmark run settings.
type BenchmarkConfig struct {
	Concurrency int    `yaml:"concurrency"` // in-flight requests; 0 falls back to playback.buffer_size
	Mode        string `yaml:"mode"`        // sequenced, unsequenced
}

// StreamConfig describes the stream to attach at startup.
type StreamConfig struct {
	Name        string `yaml:"name"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	TotalFrames int64  `yaml:"total_frames"`
	RateNum     int64  `yaml:"rate_num"` // fixed frame rate numerator; 0 means variable rate
	RateDen     int64  `yaml:"rate_den"`
}

// SourceConfig contains synthetic frame source settings.
type SourceConfig struct {
	Workers int    `yaml:"workers"` // decode workers (default: number of CPUs)
	Latency string `yaml:"latency"` // base decode latency, Go duration syntax (e.g. "15ms")
	Jitter  string `yaml:"jitter"`  // random extra latency, Go duration syntax
	FailAt  int64  `yaml:"fail_at"` // frame index that fails to decode; -1 disables
}

// Default returns a configuration suitable for local experiments.
func Default() *Config {
	return &Config{
		Playback: PlaybackConfig{
			BufferSize: 0, // pick from CPU count
		},
		Benchmark: BenchmarkConfig{
			Mode: "unsequenced",
		},
		Stream: StreamConfig{
			Name:        "synthetic",
			Width:       1280,
			Height:      720,
			TotalFrames: 2400,
			RateNum:     24,
			RateDen:     1,
		},
		Source: SourceConfig{
			Latency: "10ms",
			Jitter:  "5ms",
			FailAt:  -1,
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

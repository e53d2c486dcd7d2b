package config

import (
	"fmt"
	"time"
)

// Validate checks if the configuration is valid and fills defaults.
func Validate(cfg *Config) error {
	if cfg.Playback.BufferSize < 0 {
		return fmt.Errorf("playback.buffer_size must be >= 0")
	}
	if cfg.Playback.NominalRate < 0 {
		return fmt.Errorf("playback.nominal_rate must be >= 0")
	}

	if cfg.Benchmark.Concurrency < 0 {
		return fmt.Errorf("benchmark.concurrency must be >= 0")
	}
	switch cfg.Benchmark.Mode {
	case "sequenced", "unsequenced":
	case "":
		cfg.Benchmark.Mode = "unsequenced"
	default:
		return fmt.Errorf("benchmark.mode must be 'sequenced' or 'unsequenced', got %q", cfg.Benchmark.Mode)
	}

	if err := validateStream(&cfg.Stream, cfg.Playback.NominalRate); err != nil {
		return err
	}
	return validateSource(&cfg.Source)
}

func validateStream(s *StreamConfig, nominalRate float64) error {
	if s.Name == "" {
		s.Name = "synthetic"
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("stream dimensions must be positive, got %dx%d", s.Width, s.Height)
	}
	if s.TotalFrames < 1 {
		return fmt.Errorf("stream.total_frames must be >= 1, got %d", s.TotalFrames)
	}
	if s.RateNum < 0 || s.RateDen < 0 {
		return fmt.Errorf("stream rate must not be negative, got %d/%d", s.RateNum, s.RateDen)
	}
	if s.RateNum > 0 && s.RateDen == 0 {
		s.RateDen = 1
	}
	// A variable-rate stream has no rate to pace playback with.
	if s.RateNum == 0 && nominalRate <= 0 {
		return fmt.Errorf("variable-rate stream requires playback.nominal_rate")
	}
	return nil
}

func validateSource(s *SourceConfig) error {
	if s.Workers < 0 {
		return fmt.Errorf("source.workers must be >= 0")
	}
	if _, err := parseDuration(s.Latency, "source.latency"); err != nil {
		return err
	}
	if _, err := parseDuration(s.Jitter, "source.jitter"); err != nil {
		return err
	}
	return nil
}

// LatencyDuration returns the parsed decode latency. Valid only after
// Validate has accepted the config.
func (s SourceConfig) LatencyDuration() time.Duration {
	d, _ := parseDuration(s.Latency, "")
	return d
}

// JitterDuration returns the parsed decode jitter. Valid only after
// Validate has accepted the config.
func (s SourceConfig) JitterDuration() time.Duration {
	d, _ := parseDuration(s.Jitter, "")
	return d
}

func parseDuration(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, d)
	}
	return d, nil
}

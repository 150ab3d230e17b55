package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/api"
	"github.com/samcharles93/gpuadvisor/internal/arch"
)

// Config represents the gpuadvisor configuration file
// (~/.config/gpuadvisor/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	Architecture    string         `yaml:"architecture"`
	TopBlocks       *int           `yaml:"top_blocks"`
	TopRules        *int           `yaml:"top_rules"`
	Workers         *int           `yaml:"workers"`
	FallbackLatency *LatencyConfig `yaml:"fallback_latency"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int     `yaml:"rate_burst"`
	MaxStored     *int     `yaml:"max_stored"`
}

// LatencyConfig times opcodes the architecture tables do not know.
type LatencyConfig struct {
	Min   int `yaml:"min"`
	Max   int `yaml:"max"`
	Issue int `yaml:"issue"`
}

func (l LatencyConfig) timing() (arch.Timing, error) {
	t := arch.Timing{Min: l.Min, Max: l.Max, Issue: l.Issue}
	if t.Min <= 0 || t.Max < t.Min || t.Issue <= 0 {
		return t, fmt.Errorf("fallback_latency wants 0 < min <= max and issue > 0, got %+v", l)
	}
	return t, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gpuadvisor", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.FallbackLatency != nil {
		if _, err := cfg.FallbackLatency.timing(); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// applyLogConfig applies config file defaults to the logging flags when the
// corresponding flag was not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config, level, format *string) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*level = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*format = cfg.LogFormat
	}
}

// applyEngineConfig fills the engine settings whose flags were not set from
// the config file.
func applyEngineConfig(c *cli.Command, cfg Config, out advisor.Config) advisor.Config {
	if cfg.Architecture != "" && !c.IsSet("arch") {
		out.Architecture = cfg.Architecture
	}
	if cfg.TopBlocks != nil && !c.IsSet("top-blocks") {
		out.TopBlocks = *cfg.TopBlocks
	}
	if cfg.TopRules != nil && !c.IsSet("top-rules") {
		out.TopRules = *cfg.TopRules
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		out.Workers = *cfg.Workers
	}
	if cfg.FallbackLatency != nil {
		// Validated by parseConfig.
		t, _ := cfg.FallbackLatency.timing()
		out.Fallback = &t
	}
	return out
}

// applyServeConfig applies config file defaults to the serve command.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, out api.Config) api.Config {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		out.RateLimit = rate.Limit(*cfg.RateLimit)
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		out.RateBurst = *cfg.RateBurst
	}
	if cfg.MaxStored != nil && !c.IsSet("max-stored") {
		out.MaxStored = *cfg.MaxStored
	}
	return out
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/arch"
	"github.com/samcharles93/gpuadvisor/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	architecture string
	topBlocks    int
	topRules     int
	workers      int

	// fileConfig is loaded by setup before any subcommand runs.
	fileConfig Config
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/gpuadvisor/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, plain, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "arch",
			Aliases:     []string{"a"},
			Usage:       "GPU architecture (sm_70, sm_75, sm_80, sm_86 or an alias)",
			Destination: &architecture,
		},
		&cli.IntFlag{
			Name:        "top-blocks",
			Usage:       "hot blocks kept per pair",
			Value:       advisor.DefaultTopBlocks,
			Destination: &topBlocks,
		},
		&cli.IntFlag{
			Name:        "top-rules",
			Usage:       "optimizations reported",
			Value:       advisor.DefaultTopRules,
			Destination: &topRules,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "rank/thread pairs analysed concurrently",
			Value:       1,
			Destination: &workers,
		},
	}
}

// setup loads the config file and installs the logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	fileConfig = cfg
	applyLogConfig(cmd, cfg, &logLevel, &logFormat)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	format := logFormat
	if format == "auto" {
		format = autoFormat(os.Stderr)
	}
	log, err := logger.ForFormat(os.Stderr, format, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if path != "" {
		log.Debug("config resolved", "path", path)
	}
	return logger.WithContext(ctx, log), nil
}

// engineConfig merges the engine flags of cmd over the config file.
func engineConfig(cmd *cli.Command) (advisor.Config, error) {
	cfg := applyEngineConfig(cmd, fileConfig, advisor.Config{
		Architecture: architecture,
		TopBlocks:    topBlocks,
		TopRules:     topRules,
		Workers:      workers,
	})
	for _, v := range []struct {
		name string
		n    int
	}{
		{"top-blocks", cfg.TopBlocks},
		{"top-rules", cfg.TopRules},
		{"workers", cfg.Workers},
	} {
		if v.n <= 0 {
			return cfg, fmt.Errorf("--%s must be positive, got %d", v.name, v.n)
		}
	}
	if cfg.Architecture != "" {
		if _, err := arch.Lookup(cfg.Architecture); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// autoFormat picks colored output for terminals.
func autoFormat(f *os.File) string {
	if isTerminal(f) {
		return "pretty"
	}
	return "plain"
}

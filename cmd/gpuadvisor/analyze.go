package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/bundle"
	"github.com/samcharles93/gpuadvisor/internal/logger"
)

func analyzeCmd() *cli.Command {
	var (
		bundlePath string
		format     string
		outputPath string
		stable     bool
	)

	return &cli.Command{
		Name:  "analyze",
		Usage: "Attribute the stalls of an analysis bundle and print advice",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "bundle",
				Aliases:     []string{"b"},
				Usage:       "path to the analysis bundle (.json)",
				Required:    true,
				Destination: &bundlePath,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "report format (text, json)",
				Value:       "text",
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the report to this file instead of stdout",
				Destination: &outputPath,
			},
			&cli.BoolFlag{
				Name:        "stable",
				Usage:       "zero the run id and pair timings so repeated runs produce identical reports",
				Destination: &stable,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			write, err := reportWriter(format)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg, err := engineConfig(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			b, err := bundle.LoadFile(bundlePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if cfg.Architecture == "" {
				cfg.Architecture = b.Architecture
			}

			engine, err := advisor.NewEngine(cfg, b.Functions, advisor.WithLogger(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("analysing bundle", "path", bundlePath, "arch", engine.Profile().Name,
				"instructions", engine.Catalog().Len(), "workers", cfg.Workers)

			res, err := engine.Run(ctx, b.Input())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if res.FailedPairs > 0 {
				log.Warn("some pairs failed", "failed", res.FailedPairs)
			}
			if stable {
				stabilize(res)
			}

			if outputPath == "" {
				return write(os.Stdout, res)
			}
			return writeReportFile(outputPath, res, write)
		},
	}
}

func reportWriter(format string) (func(io.Writer, *advisor.Result) error, error) {
	switch format {
	case "text", "":
		return writeText, nil
	case "json":
		return writeJSON, nil
	default:
		return nil, fmt.Errorf("unknown report format %q (want text or json)", format)
	}
}

func writeReportFile(path string, res *advisor.Result, write func(io.Writer, *advisor.Result) error) error {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, res); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

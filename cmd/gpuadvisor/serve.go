package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/gpuadvisor/internal/api"
	"github.com/samcharles93/gpuadvisor/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int
		maxStored   int
		maxBody     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the analysis REST API",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.FloatFlag{
				Name:        "rate-limit",
				Usage:       "requests per second accepted on /v1 (0 disables limiting)",
				Destination: &rateLimit,
			},
			&cli.IntFlag{
				Name:        "rate-burst",
				Usage:       "burst size of the rate limiter",
				Value:       10,
				Destination: &rateBurst,
			},
			&cli.IntFlag{
				Name:        "max-stored",
				Usage:       "analyses kept in memory before the oldest is evicted",
				Value:       api.DefaultMaxStored,
				Destination: &maxStored,
			},
			&cli.Int64Flag{
				Name:        "max-body",
				Usage:       "largest accepted bundle in bytes",
				Value:       api.DefaultMaxBodyBytes,
				Destination: &maxBody,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			engineCfg, err := engineConfig(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg := applyServeConfig(cmd, fileConfig, &addr, api.Config{
				Engine:       engineCfg,
				MaxBodyBytes: maxBody,
				MaxStored:    maxStored,
				RateLimit:    rate.Limit(rateLimit),
				RateBurst:    rateBurst,
			})

			server := api.NewServer(cfg, api.WithLogger(log))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "rate_limit", float64(cfg.RateLimit))
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

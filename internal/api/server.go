// Package api serves blame analyses over HTTP. Clients post analysis bundles,
// the server runs the engine on them and keeps the results by run id.
package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/arch"
	"github.com/samcharles93/gpuadvisor/internal/bundle"
	"github.com/samcharles93/gpuadvisor/internal/logger"
	"github.com/samcharles93/gpuadvisor/internal/telemetry"
	"github.com/samcharles93/gpuadvisor/internal/version"
)

// DefaultMaxBodyBytes bounds a posted bundle.
const DefaultMaxBodyBytes = 64 << 20

type Config struct {
	// Engine holds the defaults; requests may override the architecture and
	// the selection sizes.
	Engine       advisor.Config
	MaxBodyBytes int64
	MaxStored    int
	// RateLimit is in requests per second over /v1. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegistry registers the server's collectors on reg and serves reg on
// /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

type Server struct {
	cfg      Config
	store    *AnalysisStore
	limiter  *rate.Limiter
	registry *prometheus.Registry
	tel      *telemetry.Collectors
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(cfg Config, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		cfg:   cfg,
		store: NewAnalysisStore(cfg.MaxStored),
		log:   logger.Discard(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.tel = telemetry.New(s.registry)
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(cfg.RateLimit, max(cfg.RateBurst, 1))
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/v1")
	if s.limiter != nil {
		v1.Use(rateLimit(s.limiter))
	}
	v1.POST("/analyses", s.handleCreateAnalysis)
	v1.GET("/analyses", s.handleListAnalyses)
	v1.GET("/analyses/:id", s.handleGetAnalysis)
	v1.DELETE("/analyses/:id", s.handleDeleteAnalysis)
	v1.GET("/architectures", s.handleListArchitectures)
	v1.GET("/version", s.handleVersion)

	metrics := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

// Store exposes the analysis store.
func (s *Server) Store() *AnalysisStore { return s.store }

func (s *Server) handleCreateAnalysis(c *echo.Context) error {
	cfg, err := s.engineConfig(c)
	if err != nil {
		s.tel.Analysis(telemetry.StatusRejected)
		return writeAnalysisError(c, err)
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.tel.Analysis(telemetry.StatusRejected)
		return writeAnalysisError(c, err)
	}
	b, err := bundle.Load(bytes.NewReader(body))
	if err != nil {
		s.tel.Analysis(telemetry.StatusRejected)
		return writeAnalysisError(c, err)
	}
	if cfg.Architecture == "" {
		cfg.Architecture = b.Architecture
	}
	if cfg.Architecture == "" {
		cfg.Architecture = s.cfg.Engine.Architecture
	}

	engine, err := advisor.NewEngine(cfg, b.Functions,
		advisor.WithLogger(s.log), advisor.WithTelemetry(s.tel))
	if err != nil {
		s.tel.Analysis(telemetry.StatusRejected)
		return writeAnalysisError(c, err)
	}
	res, err := engine.Run(c.Request().Context(), b.Input())
	if err != nil {
		s.tel.Analysis(telemetry.StatusFailed)
		return writeAnalysisError(c, err)
	}

	for _, id := range s.store.Save(res, s.clock()) {
		s.log.Debug("evicted analysis", "run", id)
	}
	s.tel.Stored(s.store.Len())
	s.tel.Analysis(telemetry.StatusCompleted)
	s.log.Info("analysis stored", "run", res.RunID, "arch", res.Architecture,
		"pairs", len(res.Pairs), "failed", res.FailedPairs)
	return c.JSON(http.StatusCreated, res)
}

// engineConfig applies the query overrides of a create request to the
// server defaults. An empty architecture defers to the bundle.
func (s *Server) engineConfig(c *echo.Context) (advisor.Config, error) {
	cfg := s.cfg.Engine
	cfg.Architecture = c.QueryParam("architecture")

	ints := []struct {
		name string
		dst  *int
	}{
		{"top_blocks", &cfg.TopBlocks},
		{"top_rules", &cfg.TopRules},
		{"workers", &cfg.Workers},
	}
	for _, p := range ints {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return cfg, newInvalidRequest(p.name + " must be a positive integer")
		}
		*p.dst = v
	}
	return cfg, nil
}

func (s *Server) handleListAnalyses(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   s.store.List(),
	})
}

func (s *Server) lookup(c *echo.Context) (uuid.UUID, *analysisRecord, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, nil, newInvalidRequest("analysis id must be a uuid")
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return id, nil, errNotFound
	}
	return id, rec, nil
}

var errNotFound = errors.New("analysis not found")

func (s *Server) handleGetAnalysis(c *echo.Context) error {
	_, rec, err := s.lookup(c)
	switch {
	case errors.Is(err, errNotFound):
		return writeNotFound(c, err.Error())
	case err != nil:
		return writeBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, rec.Result)
}

type DeleteAnalysisResp struct {
	ID      uuid.UUID `json:"id"`
	Object  string    `json:"object"`
	Deleted bool      `json:"deleted"`
}

func (s *Server) handleDeleteAnalysis(c *echo.Context) error {
	id, _, err := s.lookup(c)
	switch {
	case errors.Is(err, errNotFound):
		return writeNotFound(c, err.Error())
	case err != nil:
		return writeBadRequest(c, err.Error())
	}
	if !s.store.Delete(id) {
		return writeNotFound(c, errNotFound.Error())
	}
	s.tel.Stored(s.store.Len())
	return c.JSON(http.StatusOK, DeleteAnalysisResp{ID: id, Object: "analysis", Deleted: true})
}

// Architecture describes one supported GPU generation.
type Architecture struct {
	Name       string   `json:"name"`
	Device     string   `json:"device"`
	Aliases    []string `json:"aliases"`
	SMs        int      `json:"sms"`
	Schedulers int      `json:"schedulers"`
	Warps      int      `json:"warps"`
	WarpSize   int      `json:"warp_size"`
	ClockGHz   float64  `json:"clock_ghz"`
	InstSize   int      `json:"inst_size"`
}

func Architectures() []Architecture {
	profiles := arch.Profiles()
	out := make([]Architecture, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Architecture{
			Name:       p.Name,
			Device:     p.Device,
			Aliases:    arch.Aliases(p.Generation),
			SMs:        p.SMs(),
			Schedulers: p.Schedulers(),
			Warps:      p.Warps(),
			WarpSize:   p.WarpSize(),
			ClockGHz:   p.ClockGHz(),
			InstSize:   p.InstSize(),
		})
	}
	return out
}

func (s *Server) handleListArchitectures(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   Architectures(),
	})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, version.Resolve())
}

func rateLimit(l *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !l.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
			}
			return next(c)
		}
	}
}

package advisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/gpuadvisor/internal/arch"
	"github.com/samcharles93/gpuadvisor/internal/blame"
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/logger"
	"github.com/samcharles93/gpuadvisor/internal/program"
	"github.com/samcharles93/gpuadvisor/internal/telemetry"
)

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	Architecture string
	TopBlocks    int
	TopRules     int
	Workers      int
	// Fallback times opcodes the architecture has no entry for. Nil selects
	// arch.DefaultFallback.
	Fallback *arch.Timing
	MaxPathSteps int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTelemetry sets the collectors the engine reports to.
func WithTelemetry(c *telemetry.Collectors) Option {
	return func(e *Engine) { e.tel = c }
}

// Engine analyses the profiles of one load module. The catalog, static graph
// and architecture profile are built once and shared read-only by every
// pair.
type Engine struct {
	cfg     Config
	profile *arch.Profile
	catalog *program.Catalog
	static  *depgraph.Graph
	unknown []string

	log logger.Logger
	tel *telemetry.Collectors
}

// NewEngine selects the architecture, indexes functions, assigns instruction
// timing and builds the static dependency graph. An unknown architecture
// fails with arch.ErrUnknownArchitecture.
func NewEngine(cfg Config, functions []*program.Function, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, log: logger.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Architecture == "" {
		e.cfg.Architecture = arch.Names()[0]
	}
	if e.cfg.Workers <= 0 {
		e.cfg.Workers = 1
	}

	profile, err := arch.Lookup(e.cfg.Architecture)
	if err != nil {
		return nil, err
	}
	e.profile = profile

	cat, err := program.NewCatalog(functions, profile.InstSize())
	if err != nil {
		return nil, fmt.Errorf("index functions: %w", err)
	}
	e.catalog = cat

	fallback := arch.DefaultFallback
	if cfg.Fallback != nil {
		fallback = *cfg.Fallback
	}
	seen := make(map[string]bool)
	cat.AssignTiming(func(opcode string) (int, int, int) {
		t, known := arch.Resolve(profile, opcode, fallback)
		if !known && !seen[opcode] {
			seen[opcode] = true
			e.unknown = append(e.unknown, opcode)
		}
		return t.Min, t.Max, t.Issue
	})
	slices.Sort(e.unknown)
	if len(e.unknown) > 0 {
		e.log.Warn("opcodes timed with fallback latency",
			"arch", profile.Name, "count", len(e.unknown), "opcodes", e.unknown,
			"min", fallback.Min, "max", fallback.Max, "issue", fallback.Issue)
		e.tel.UnknownOpcode(len(e.unknown))
	}

	static, stats, err := depgraph.BuildInstructionGraph(cat)
	if err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}
	e.static = static
	e.log.Debug("static dependency graph built",
		"instructions", cat.Len(), "issue_edges", stats.IssueEdges, "latency_edges", stats.LatencyEdges)

	return e, nil
}

// Profile returns the selected architecture.
func (e *Engine) Profile() *arch.Profile { return e.profile }

// Catalog returns the instruction catalog.
func (e *Engine) Catalog() *program.Catalog { return e.catalog }

// UnknownOpcodes returns the opcodes timed with the fallback, sorted.
func (e *Engine) UnknownOpcodes() []string { return slices.Clone(e.unknown) }

// Input is the profile data of one run.
type Input struct {
	Tree     cct.Tree
	Registry cct.Registry
	// Nodes maps sampled instruction addresses to their context nodes.
	Nodes     map[program.Address]cct.NodeID
	Structure Structure
}

// PairResult is the outcome of one (rank, thread) pair.
type PairResult struct {
	Rank     int           `json:"rank"`
	Thread   int           `json:"thread"`
	Skipped  bool          `json:"skipped,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	Propagation  blame.PropagateStats     `json:"propagation"`
	Pruning      blame.PruneStats         `json:"pruning"`
	Facts        []blame.InstructionBlame `json:"facts,omitempty"`
	Unattributed []blame.Unattributed     `json:"unattributed,omitempty"`
	Functions    []blame.FunctionBlame    `json:"functions,omitempty"`
	TopBlocks    []blame.BlockBlame       `json:"top_blocks,omitempty"`
	Scores       []RuleScore              `json:"scores,omitempty"`
	Advice       []Advice                 `json:"advice,omitempty"`
}

// Result is the outcome of one run. Pairs are in (rank, thread) order
// regardless of the worker count. Everything but RunID and the pair
// durations is a function of the input.
type Result struct {
	RunID          uuid.UUID    `json:"run_id"`
	Architecture   string       `json:"architecture"`
	Pairs          []PairResult `json:"pairs"`
	AnalyzedPairs  int          `json:"analyzed_pairs"`
	SkippedPairs   int          `json:"skipped_pairs"`
	FailedPairs    int          `json:"failed_pairs"`
	UnknownOpcodes []string     `json:"unknown_opcodes,omitempty"`
	Scores         []RuleScore  `json:"scores"`
	Advice         []Advice     `json:"advice"`
}

type pairKey struct{ rank, thread int }

// Run analyses every (rank, thread) pair of in. Pairs without GPU samples are
// skipped; pairs violating a data invariant fail on their own and are
// counted. Derived blame metrics are registered before any pair starts.
// Cancellation is observed between pairs.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Tree == nil || in.Registry == nil {
		return nil, errors.New("advisor: input needs a tree and a registry")
	}
	for _, name := range cct.DerivedNames() {
		in.Registry.Register(name)
	}

	var pairs []pairKey
	for rank := range in.Registry.Ranks() {
		for thread := range in.Registry.Threads(rank) {
			pairs = append(pairs, pairKey{rank, thread})
		}
	}

	env := NewEnv(e.catalog, e.profile, in.Structure)
	results := make([]PairResult, len(pairs))

	// Synthesized leaves are shared by all pairs and inserted up front, so
	// the tree gains one node per reached address whatever the worker count.
	leaves := blame.NewLeaves()
	if slices.ContainsFunc(pairs, func(p pairKey) bool {
		_, ok := blame.ResolveMetrics(in.Registry, p.rank, p.thread)
		return ok
	}) {
		leaves.Warm(in.Tree, e.static, e.catalog, in.Nodes)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, p := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.runPair(env, in, leaves, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:          uuid.New(),
		Architecture:   e.profile.Name,
		Pairs:          results,
		UnknownOpcodes: e.UnknownOpcodes(),
	}
	for i := range results {
		pr := &results[i]
		switch {
		case pr.Skipped:
			res.SkippedPairs++
		case pr.Err != nil:
			res.FailedPairs++
		default:
			res.AnalyzedPairs++
			res.Scores = MergeScores(res.Scores, pr.Scores)
		}
	}
	if res.Scores == nil {
		res.Scores = Score(env, nil)
	}
	res.Advice = Rank(env, res.Scores, e.cfg.TopRules)

	e.log.Info("analysis finished",
		"run", res.RunID, "arch", res.Architecture, "pairs", len(results),
		"analyzed", res.AnalyzedPairs, "skipped", res.SkippedPairs, "failed", res.FailedPairs)
	return res, nil
}

func (e *Engine) runPair(env *Env, in Input, leaves *blame.Leaves, p pairKey) PairResult {
	start := time.Now()
	pr := PairResult{Rank: p.rank, Thread: p.thread}
	log := e.log.With("rank", p.rank, "thread", p.thread)

	m, ok := blame.ResolveMetrics(in.Registry, p.rank, p.thread)
	if !ok || !m.HasSamples(in.Tree, in.Nodes) {
		pr.Skipped = true
		e.tel.Pair(telemetry.OutcomeSkipped, 0)
		log.Debug("pair carries no GPU samples, skipping")
		return pr
	}

	res, err := blame.Analyze(blame.Input{
		Tree:    in.Tree,
		Static:  e.static,
		Catalog: e.catalog,
		Nodes:   in.Nodes,
		Metrics: m,
		Prune:   blame.PruneOptions{MaxSteps: e.cfg.MaxPathSteps},
		Leaves:  leaves,
	})
	pr.Duration = time.Since(start)
	if err != nil {
		pr.Err = err
		pr.Error = err.Error()
		e.tel.Pair(telemetry.OutcomeFailed, pr.Duration)
		log.Warn("pair analysis failed", "error", err)
		return pr
	}

	pr.Propagation = res.Propagation
	pr.Pruning = res.Pruning
	pr.Facts = res.Facts
	pr.Unattributed = res.Unattributed
	pr.Functions = res.Functions

	top := SelectTopBlocks(res.Functions, e.cfg.TopBlocks)
	pr.TopBlocks = make([]blame.BlockBlame, len(top))
	for i, b := range top {
		pr.TopBlocks[i] = *b
	}
	pr.Scores = Score(env, top)
	pr.Advice = Rank(env, pr.Scores, e.cfg.TopRules)

	e.tel.Pair(telemetry.OutcomeAnalyzed, pr.Duration)
	e.tel.Pruned(telemetry.FilterOpcode, res.Pruning.OpcodeRemoved)
	e.tel.Pruned(telemetry.FilterLatency, res.Pruning.LatencyRemoved)
	for _, u := range res.Unattributed {
		e.tel.Unattributed(u.Metric, u.Value)
	}
	if res.Pruning.Exhausted > 0 {
		log.Warn("path search hit the step bound", "searches", res.Pruning.Exhausted)
	}
	log.Debug("pair analysed",
		"visits", res.Propagation.Visits, "synthesized", res.Propagation.Synthesized,
		"edges", res.Pruning.Edges, "opcode_pruned", res.Pruning.OpcodeRemoved,
		"latency_pruned", res.Pruning.LatencyRemoved, "facts", len(res.Facts),
		"unattributed", len(res.Unattributed), "duration", pr.Duration)
	return pr
}

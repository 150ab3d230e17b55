// Package telemetry holds the Prometheus collectors describing analysis
// activity. Collectors are registered on a caller-supplied registerer so that
// tests and embedded engines do not touch the global registry. A nil
// *Collectors is valid and records nothing.
package telemetry

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gpuadvisor"

// Pair outcomes.
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Analysis request statuses.
const (
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Prune filters.
const (
	FilterOpcode  = "opcode"
	FilterLatency = "latency"
)

// Collectors groups every collector the engine and server update.
type Collectors struct {
	pairs          *prometheus.CounterVec
	pairDuration   prometheus.Histogram
	edgesPruned    *prometheus.CounterVec
	unattributed   *prometheus.CounterVec
	unknownOpcodes prometheus.Counter
	analyses       *prometheus.CounterVec
	storedAnalyses prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		pairs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_total",
				Help:      "Rank/thread pairs processed, by outcome.",
			},
			[]string{"outcome"},
		),
		pairDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pair_duration_seconds",
				Help:      "Wall-clock time spent analysing one rank/thread pair.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
		),
		edgesPruned: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edges_pruned_total",
				Help:      "Context dependency edges removed, by filter.",
			},
			[]string{"filter"},
		),
		unattributed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unattributed_stall_samples_total",
				Help:      "Dependency stall samples left without a surviving producer, by stall.",
			},
			[]string{"stall"},
		),
		unknownOpcodes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_opcodes_total",
				Help:      "Distinct opcodes timed with the fallback latency.",
			},
		),
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Analysis requests served over HTTP, by status.",
			},
			[]string{"status"},
		),
		storedAnalyses: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_analyses",
				Help:      "Analysis results currently kept in memory.",
			},
		),
	}
}

func (c *Collectors) Pair(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.pairs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAnalyzed {
		c.pairDuration.Observe(d.Seconds())
	}
}

func (c *Collectors) Pruned(filter string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.edgesPruned.WithLabelValues(filter).Add(float64(n))
}

// Unattributed adds value to the stall's counter. Counters only grow, so
// non-positive and NaN values are ignored.
func (c *Collectors) Unattributed(stall string, value float64) {
	if c == nil || !(value > 0) || math.IsInf(value, 0) {
		return
	}
	c.unattributed.WithLabelValues(stall).Add(value)
}

func (c *Collectors) UnknownOpcode(n int) {
	if c == nil {
		return
	}
	c.unknownOpcodes.Add(float64(n))
}

func (c *Collectors) Analysis(status string) {
	if c == nil {
		return
	}
	c.analyses.WithLabelValues(status).Inc()
}

func (c *Collectors) Stored(n int) {
	if c == nil {
		return
	}
	c.storedAnalyses.Set(float64(n))
}

// Package blame attributes sampled GPU stalls to the instructions that caused
// them. A pass over one (rank, thread) pair propagates the static dependency
// graph into the calling-context tree, prunes edges that cannot explain the
// observed stalls, apportions each stall across the surviving producers and
// rolls the resulting facts up to blocks and functions.
package blame

import (
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// StallMetric pairs a stall metric with the derived metrics receiving its
// blame.
type StallMetric struct {
	Name    string
	ID      cct.MetricID
	BlameIn cct.MetricID
	BlameEx cct.MetricID
	Blame   string
}

// PairMetrics holds the metric ids of one (rank, thread) pair.
type PairMetrics struct {
	Rank   int
	Thread int

	InstIn  cct.MetricID
	InstEx  cct.MetricID
	IssueIn cct.MetricID
	IssueEx cct.MetricID
	StallEx cct.MetricID

	ExecDep StallMetric
	MemDep  StallMetric
	Self    []StallMetric
}

// ResolveMetrics looks up the metric ids of a pair. ok is false when the pair
// carries no GPU instruction metric and must be skipped. Derived blame names
// must be registered beforehand.
func ResolveMetrics(reg cct.Registry, rank, thread int) (m *PairMetrics, ok bool) {
	id := func(name string, inclusive bool) cct.MetricID {
		return reg.MetricID(rank, thread, name, inclusive)
	}
	if id(cct.InstMetric, false) == cct.NoMetric {
		return nil, false
	}
	stall := func(name string) StallMetric {
		b := cct.BlameName(name)
		return StallMetric{
			Name:    name,
			ID:      id(name, false),
			BlameIn: id(b, true),
			BlameEx: id(b, false),
			Blame:   b,
		}
	}

	m = &PairMetrics{
		Rank:    rank,
		Thread:  thread,
		InstIn:  id(cct.InstMetric, true),
		InstEx:  id(cct.InstMetric, false),
		IssueIn: id(cct.IssueMetric, true),
		IssueEx: id(cct.IssueMetric, false),
		StallEx: id(cct.StallMetric, false),
		ExecDep: stall(cct.ExecDepStall),
		MemDep:  stall(cct.MemDepStall),
	}
	for _, s := range cct.SelfStalls {
		m.Self = append(m.Self, stall(s))
	}
	return m, true
}

// expected returns the dependency stall a consumer of class is expected to
// show: non-shared memory producers cause memory dependency stalls, anything
// else an execution dependency stall.
func (m *PairMetrics) expected(class program.OpClass) *StallMetric {
	if class.StallsOnMemory() {
		return &m.MemDep
	}
	return &m.ExecDep
}

// HasSamples reports whether any of the nodes carries a nonzero instruction
// sample.
func (m *PairMetrics) HasSamples(tree cct.Tree, nodes map[program.Address]cct.NodeID) bool {
	for _, n := range nodes {
		if tree.Metric(n, m.InstEx) != 0 {
			return true
		}
	}
	return false
}

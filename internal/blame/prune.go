package blame

import (
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// PathMap holds the surviving paths of every edge kept by the latency filter.
type PathMap map[depgraph.Edge][]Path

// PruneStats counts what each filter removed.
type PruneStats struct {
	Edges          int
	OpcodeRemoved  int
	LatencyRemoved int
	Paths          int
	// Exhausted counts path searches cut short by the step bound.
	Exhausted int
}

// Pruned is the outcome of Prune.
type Pruned struct {
	Graph *depgraph.Graph
	Paths PathMap
	Stats PruneStats
}

// PruneOptions tunes the latency filter.
type PruneOptions struct {
	MaxSteps int
}

// Prune removes the context edges that cannot explain a stall. The input graph
// is left untouched; the returned graph is an edge subset of it.
//
// The opcode filter runs first: an edge is dropped when its consumer shows no
// sample of the stall the producer's opcode class would cause. The latency
// filter then keeps an edge only if, for some register the producer writes
// and the consumer reads from it, a block path exists along which the value
// is neither overwritten nor already available.
func Prune(tree cct.Tree, cg *ContextGraph, cat *program.Catalog, m *PairMetrics, opts PruneOptions) (*Pruned, error) {
	out := &Pruned{Graph: cg.Graph.Clone(), Paths: make(PathMap)}
	edges := out.Graph.Edges()
	out.Stats.Edges = len(edges)

	kept := edges[:0]
	for _, e := range edges {
		from, ok := cat.Instruction(e.From)
		if !ok {
			return nil, missingAddress("edge source", e.From)
		}
		stall := m.expected(program.ClassifyOpcode(from.Opcode))
		if tree.Metric(cg.Nodes[e.To], stall.ID) == 0 {
			out.Graph.RemoveEdge(e.From, e.To)
			out.Stats.OpcodeRemoved++
			continue
		}
		kept = append(kept, e)
	}

	for _, e := range kept {
		from, _ := cat.Instruction(e.From)
		to, ok := cat.Instruction(e.To)
		if !ok {
			return nil, missingAddress("edge target", e.To)
		}

		var paths []Path
		for _, reg := range from.Dsts {
			if !to.ProducedBy(reg, from.Addr) {
				continue
			}
			found, exhausted := searchPaths(cat, from, to, reg, opts.MaxSteps)
			if exhausted {
				out.Stats.Exhausted++
			}
			paths = addPaths(paths, found)
		}

		if len(paths) == 0 {
			out.Graph.RemoveEdge(e.From, e.To)
			out.Stats.LatencyRemoved++
			continue
		}
		out.Paths[e] = paths
		out.Stats.Paths += len(paths)
	}

	return out, nil
}

package blame

import (
	"fmt"

	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// Input is everything one pair's pass reads.
type Input struct {
	Tree    cct.Tree
	Static  *depgraph.Graph
	Catalog *program.Catalog
	Nodes   map[program.Address]cct.NodeID
	Metrics *PairMetrics
	Prune   PruneOptions
	// Leaves shares synthesized nodes between the pairs of a run. Nil
	// synthesizes per pair.
	Leaves *Leaves
}

// Result is the outcome of one pair's pass.
type Result struct {
	// Nodes maps every address reached by propagation to its context node,
	// synthesized nodes included.
	Nodes        map[program.Address]cct.NodeID
	Propagation  PropagateStats
	Pruning      PruneStats
	Facts        []InstructionBlame
	Unattributed []Unattributed
	Functions    []FunctionBlame
}

// Analyze runs propagation, pruning, attribution and aggregation for one
// pair.
func Analyze(in Input) (*Result, error) {
	cg, pstats, err := Propagate(in.Tree, in.Static, in.Catalog, in.Nodes, in.Metrics, in.Leaves)
	if err != nil {
		return nil, fmt.Errorf("propagate: %w", err)
	}
	pruned, err := Prune(in.Tree, cg, in.Catalog, in.Metrics, in.Prune)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	attr, err := Attribute(in.Tree, cg, pruned, in.Catalog, in.Metrics)
	if err != nil {
		return nil, fmt.Errorf("attribute: %w", err)
	}
	fns, err := Aggregate(in.Catalog, attr.Facts)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return &Result{
		Nodes:        cg.Nodes,
		Propagation:  pstats,
		Pruning:      pruned.Stats,
		Facts:        attr.Facts,
		Unattributed: attr.Unattributed,
		Functions:    fns,
	}, nil
}

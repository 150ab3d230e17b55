package depgraph

import (
	"fmt"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

// BuildStats counts the edges added by BuildInstructionGraph per kind. An
// edge that is both an issue and a latency dependency counts once, as issue.
type BuildStats struct {
	IssueEdges   int
	LatencyEdges int
}

// BuildInstructionGraph builds the static instruction dependency graph of the
// catalog. Every instruction becomes a node. Issue edges link an instruction
// to the one before it in its block; the first instruction of a block depends
// on the last instruction of every non-call predecessor block. Latency edges
// link an instruction to every recorded producer of each source register.
func BuildInstructionGraph(cat *program.Catalog) (*Graph, BuildStats, error) {
	g := New()
	var stats BuildStats

	for _, addr := range cat.Addresses() {
		g.AddNode(addr)
	}

	for _, fn := range cat.Functions() {
		for _, b := range fn.Blocks {
			for i, in := range b.Insts {
				if i > 0 {
					if g.AddEdge(b.Insts[i-1].Addr, in.Addr) {
						stats.IssueEdges++
					}
					continue
				}
				for _, pred := range cat.Predecessors(b.ID) {
					if g.AddEdge(pred.End(), in.Addr) {
						stats.IssueEdges++
					}
				}
			}
		}
	}

	for _, addr := range cat.Addresses() {
		in, _ := cat.Instruction(addr)
		for _, src := range in.Srcs {
			for _, p := range in.Producers[src] {
				if _, ok := cat.Instruction(p); !ok {
					return nil, stats, fmt.Errorf("%w: producer %s of %s at %s is not in the catalog",
						program.ErrDataConsistency, p, src, addr)
				}
				if g.AddEdge(p, addr) {
					stats.LatencyEdges++
				}
			}
		}
	}

	return g, stats, nil
}

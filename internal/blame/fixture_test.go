package blame

import (
	"maps"
	"slices"
	"testing"

	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

type samples map[string]float64

type fixture struct {
	cat    *program.Catalog
	static *depgraph.Graph
	tree   *cct.MemoryTree
	reg    *cct.MemoryRegistry
	nodes  map[program.Address]cct.NodeID
	m      *PairMetrics
}

func reg(id int) program.Reg { return program.Reg{Class: program.RegGeneral, ID: id} }

// inst builds an instruction writing dsts and reading each key of srcs, with
// the value as its producer.
func inst(addr program.Address, op string, latMax, issue int, dsts []int, srcs map[int]program.Address) *program.Instruction {
	in := &program.Instruction{Addr: addr, Opcode: op, LatencyMin: latMax, LatencyMax: latMax, Issue: issue}
	for _, d := range dsts {
		in.Dsts = append(in.Dsts, reg(d))
	}
	if len(srcs) > 0 {
		in.Producers = make(map[program.Reg][]program.Address)
		for _, s := range slices.Sorted(maps.Keys(srcs)) {
			in.Srcs = append(in.Srcs, reg(s))
			in.Producers[reg(s)] = []program.Address{srcs[s]}
		}
	}
	return in
}

func block(id int, targets []program.Target, insts ...*program.Instruction) *program.Block {
	return &program.Block{ID: id, Insts: insts, Targets: targets}
}

func fall(id int) program.Target { return program.Target{Block: id, Kind: program.TargetFallthrough} }
func branch(id int) program.Target { return program.Target{Block: id, Kind: program.TargetBranch} }

var baseMetrics = append([]string{
	cct.InstMetric, cct.IssueMetric, cct.StallMetric, cct.ExecDepStall, cct.MemDepStall,
}, cct.SelfStalls...)

func newFixture(t *testing.T, fns []*program.Function, sampled map[program.Address]samples) *fixture {
	t.Helper()

	cat, err := program.NewCatalog(fns, program.DefaultInstSize)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	static, _, err := depgraph.BuildInstructionGraph(cat)
	if err != nil {
		t.Fatalf("BuildInstructionGraph: %v", err)
	}

	r := cct.NewMemoryRegistry()
	r.AddPair(0, 0, baseMetrics...)
	for _, name := range cct.DerivedNames() {
		r.Register(name)
	}
	m, ok := ResolveMetrics(r, 0, 0)
	if !ok {
		t.Fatalf("pair unexpectedly skippable")
	}

	tree := cct.NewMemoryTree()
	root := tree.AddRoot(0)
	nodes := make(map[program.Address]cct.NodeID)
	for _, addr := range slices.Sorted(maps.Keys(sampled)) {
		n := tree.InsertLeaf(root, addr)
		nodes[addr] = n
		for name, v := range sampled[addr] {
			tree.AddMetric(n, r.MetricID(0, 0, name, true), v)
			tree.AddMetric(n, r.MetricID(0, 0, name, false), v)
		}
	}

	return &fixture{cat: cat, static: static, tree: tree, reg: r, nodes: nodes, m: m}
}

func (f *fixture) input() Input {
	return Input{Tree: f.tree, Static: f.static, Catalog: f.cat, Nodes: f.nodes, Metrics: f.m}
}

// straightLine is one function:
//
//	b0: 0x00 LDG  R1
//	    0x10 FFMA R2
//	    0x20 IADD3 R3
//	    0x30 FADD R4 <- R1(0x00), R2(0x10)
//	b1: 0x40 FMUL R5 <- R4(0x30)
func straightLine() []*program.Function {
	b0 := block(0, []program.Target{fall(1)},
		inst(0x00, "LDG.E.MEMORY.GLOBAL", 1029, 4, []int{1}, nil),
		inst(0x10, "FFMA", 6, 2, []int{2}, nil),
		inst(0x20, "IADD3", 5, 2, []int{3}, nil),
		inst(0x30, "FADD", 4, 2, []int{4}, map[int]program.Address{1: 0x00, 2: 0x10}),
	)
	b1 := block(1, nil,
		inst(0x40, "FMUL", 4, 2, []int{5}, map[int]program.Address{4: 0x30}),
	)
	return []*program.Function{{ID: 0, Name: "k", Blocks: []*program.Block{b0, b1}}}
}

func straightLineSamples() map[program.Address]samples {
	return map[program.Address]samples{
		0x30: {cct.InstMetric: 10, cct.IssueMetric: 5, cct.StallMetric: 10, cct.ExecDepStall: 6, cct.MemDepStall: 4},
		0x40: {cct.InstMetric: 2, cct.IssueMetric: 2, cct.StallMetric: 3, cct.PipeBusyStall: 3},
	}
}

// sumByStall totals fact values per blame metric name.
func sumByStall(facts []InstructionBlame) map[string]float64 {
	out := make(map[string]float64)
	for _, f := range facts {
		out[f.Metric] += f.Value
	}
	return out
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	scale := max(1, a, b, -a, -b)
	return d <= 1e-9*scale
}

package advisor

import (
	"maps"
	"slices"
	"testing"

	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

type samples map[string]float64

func gpr(id int) program.Reg { return program.Reg{Class: program.RegGeneral, ID: id} }

// op builds an instruction writing dsts and reading each key of srcs from the
// producer at its value. Timing is left to the engine.
func op(addr program.Address, opcode string, dsts []int, srcs map[int]program.Address) *program.Instruction {
	in := &program.Instruction{Addr: addr, Opcode: opcode}
	for _, d := range dsts {
		in.Dsts = append(in.Dsts, gpr(d))
	}
	if len(srcs) > 0 {
		in.Producers = make(map[program.Reg][]program.Address)
		for _, s := range slices.Sorted(maps.Keys(srcs)) {
			in.Srcs = append(in.Srcs, gpr(s))
			in.Producers[gpr(s)] = []program.Address{srcs[s]}
		}
	}
	return in
}

func bb(id int, targets []program.Target, insts ...*program.Instruction) *program.Block {
	return &program.Block{ID: id, Insts: insts, Targets: targets}
}

func fallTo(id int) program.Target   { return program.Target{Block: id, Kind: program.TargetFallthrough} }
func branchTo(id int) program.Target { return program.Target{Block: id, Kind: program.TargetBranch} }

// kernel is one function:
//
//	b0: 0x00 LDG  R1
//	    0x10 FFMA R2
//	    0x20 IADD3 R3
//	    0x30 FADD R4 <- R1(0x00), R2(0x10)
//	b1: 0x40 FMUL R5 <- R4(0x30)
func kernel() []*program.Function {
	b0 := bb(0, []program.Target{fallTo(1)},
		op(0x00, "LDG.E.MEMORY.GLOBAL", []int{1}, nil),
		op(0x10, "FFMA", []int{2}, nil),
		op(0x20, "IADD3", []int{3}, nil),
		op(0x30, "FADD", []int{4}, map[int]program.Address{1: 0x00, 2: 0x10}),
	)
	b1 := bb(1, nil,
		op(0x40, "FMUL", []int{5}, map[int]program.Address{4: 0x30}),
	)
	return []*program.Function{{ID: 0, Name: "saxpy", Blocks: []*program.Block{b0, b1}}}
}

// kernelSamples stalls 0x30 on both producers and 0x40 on its pipe.
func kernelSamples(scale float64) map[program.Address]samples {
	return map[program.Address]samples{
		0x30: {
			cct.InstMetric: 10 * scale, cct.IssueMetric: 5 * scale, cct.StallMetric: 10 * scale,
			cct.ExecDepStall: 6 * scale, cct.MemDepStall: 4 * scale,
		},
		0x40: {
			cct.InstMetric: 2 * scale, cct.IssueMetric: 2 * scale, cct.StallMetric: 3 * scale,
			cct.PipeBusyStall: 3 * scale,
		},
	}
}

var gpuMetrics = append([]string{
	cct.InstMetric, cct.IssueMetric, cct.StallMetric, cct.ExecDepStall, cct.MemDepStall,
}, cct.SelfStalls...)

type pairID struct{ rank, thread int }

// profileInput builds a tree with one leaf per sampled address under a single
// root and a registry declaring the GPU pairs in gpu plus metric-less pairs in
// cpu.
func profileInput(t *testing.T, gpu map[pairID]map[program.Address]samples, cpu ...pairID) Input {
	t.Helper()

	reg := cct.NewMemoryRegistry()
	keys := slices.SortedFunc(maps.Keys(gpu), func(a, b pairID) int {
		if a.rank != b.rank {
			return a.rank - b.rank
		}
		return a.thread - b.thread
	})
	for _, p := range keys {
		reg.AddPair(p.rank, p.thread, gpuMetrics...)
	}
	for _, p := range cpu {
		reg.AddPair(p.rank, p.thread)
	}

	tree := cct.NewMemoryTree()
	root := tree.AddRoot(0)
	nodes := make(map[program.Address]cct.NodeID)
	for _, p := range keys {
		for _, addr := range slices.Sorted(maps.Keys(gpu[p])) {
			n, ok := nodes[addr]
			if !ok {
				n = tree.InsertLeaf(root, addr)
				nodes[addr] = n
			}
			for name, v := range gpu[p][addr] {
				tree.AddMetric(n, reg.MetricID(p.rank, p.thread, name, true), v)
				tree.AddMetric(n, reg.MetricID(p.rank, p.thread, name, false), v)
			}
		}
	}
	return Input{Tree: tree, Registry: reg, Nodes: nodes}
}

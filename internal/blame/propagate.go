package blame

import (
	"maps"
	"slices"
	"sync"

	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// ContextGraph is the dependency graph of one pair over calling-context
// nodes. Graph is keyed by instruction address; Nodes maps each address to its
// context node.
type ContextGraph struct {
	Graph *depgraph.Graph
	Nodes map[program.Address]cct.NodeID
}

// PropagateStats describes one propagation.
type PropagateStats struct {
	Visits      int
	Synthesized int
	Edges       int
}

// Leaves resolves synthesized context nodes for every pair of a run, so one
// address under one parent maps to a single tree node however many pairs
// reach it. Safe for concurrent use.
type Leaves struct {
	mu    sync.Mutex
	nodes map[leafKey]cct.NodeID
}

type leafKey struct {
	parent cct.NodeID
	addr   program.Address
}

func NewLeaves() *Leaves {
	return &Leaves{nodes: make(map[leafKey]cct.NodeID)}
}

// Resolve returns the leaf for addr under parent, inserting it on first use.
func (l *Leaves) Resolve(tree cct.Tree, parent cct.NodeID, addr program.Address) cct.NodeID {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := leafKey{parent, addr}
	if n, ok := l.nodes[k]; ok {
		return n
	}
	n := tree.InsertLeaf(parent, addr)
	l.nodes[k] = n
	return n
}

// Len is the number of leaves synthesized so far.
func (l *Leaves) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nodes)
}

// Warm synthesizes every leaf a propagation from nodes would reach, in
// propagation order. Pairs propagating afterwards only resolve existing
// leaves, so node ids do not depend on the order pairs run in. Addresses
// unknown to the catalog stop the walk; the pairs report them.
func (l *Leaves) Warm(tree cct.Tree, static *depgraph.Graph, cat *program.Catalog,
	nodes map[program.Address]cct.NodeID) {
	_, _, _ = Propagate(tree, static, cat, nodes, nil, l)
}

// Propagate builds the context dependency graph of a pair. Starting from every
// node in nodes, visited in address order, it walks the static graph
// breadth-first. Each static predecessor of a visited address is resolved to
// its context node, or synthesized through leaves as a leaf under the visited
// node's parent, and linked by a context edge. Every address is enqueued at
// most once.
//
// nodes is not modified; the returned graph owns a copy extended with the
// resolved leaves. A nil leaves synthesizes privately. Every node taking part
// has its issue metric demand-initialized to at least one; a nil m skips that.
func Propagate(tree cct.Tree, static *depgraph.Graph, cat *program.Catalog,
	nodes map[program.Address]cct.NodeID, m *PairMetrics, leaves *Leaves) (*ContextGraph, PropagateStats, error) {

	if leaves == nil {
		leaves = NewLeaves()
	}
	cg := &ContextGraph{Graph: depgraph.New(), Nodes: maps.Clone(nodes)}
	if cg.Nodes == nil {
		cg.Nodes = make(map[program.Address]cct.NodeID)
	}
	var stats PropagateStats

	initial := slices.Sorted(maps.Keys(nodes))
	visited := make(map[program.Address]struct{}, len(initial))
	queue := make([]program.Address, 0, len(initial))
	for _, addr := range initial {
		if _, ok := cat.Instruction(addr); !ok {
			return nil, stats, missingAddress("context node", addr)
		}
		demandIssue(tree, cg.Nodes[addr], m)
		cg.Graph.AddNode(addr)
		visited[addr] = struct{}{}
		queue = append(queue, addr)
	}

	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		stats.Visits++

		node := cg.Nodes[addr]
		for _, pred := range static.Predecessors(addr) {
			pn, ok := cg.Nodes[pred]
			if !ok {
				if _, known := cat.Instruction(pred); !known {
					return nil, stats, missingAddress("dependency", pred)
				}
				pn = leaves.Resolve(tree, tree.Parent(node), pred)
				cg.Nodes[pred] = pn
				stats.Synthesized++
			}
			demandIssue(tree, pn, m)
			cg.Graph.AddEdge(pred, addr)
			if _, seen := visited[pred]; !seen {
				visited[pred] = struct{}{}
				queue = append(queue, pred)
			}
		}
	}

	stats.Edges = cg.Graph.EdgeCount()
	return cg, stats, nil
}

// demandIssue gives a node that was never sampled as issued one issue and one
// instruction sample, so later ratios never divide by zero.
func demandIssue(tree cct.Tree, n cct.NodeID, m *PairMetrics) float64 {
	if m == nil {
		return 0
	}
	issue := tree.Metric(n, m.IssueIn)
	if issue != 0 {
		return issue
	}
	tree.AddMetric(n, m.IssueIn, 1)
	tree.AddMetric(n, m.IssueEx, 1)
	tree.AddMetric(n, m.InstIn, 1)
	tree.AddMetric(n, m.InstEx, 1)
	return 1
}

// Package depgraph implements the address-keyed dependency graphs used by the
// blame analysis. Nodes live in an arena indexed by insertion order and are
// looked up by address; adjacency lists hold arena indices kept sorted by the
// address of the node they point at, so every traversal is deterministic and
// cycles need no special ownership handling.
package depgraph

import (
	"cmp"
	"slices"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

// Edge records that To depends on From.
type Edge struct {
	From program.Address
	To   program.Address
}

type node struct {
	addr  program.Address
	preds []int32
	succs []int32
}

// Graph is a directed dependency graph over instruction addresses.
type Graph struct {
	index map[program.Address]int32
	nodes []node
	edges int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[program.Address]int32)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return g.edges }

// AddNode inserts addr if it is not present yet.
func (g *Graph) AddNode(addr program.Address) {
	g.id(addr)
}

// HasNode reports whether addr is a node.
func (g *Graph) HasNode(addr program.Address) bool {
	_, ok := g.index[addr]
	return ok
}

func (g *Graph) id(addr program.Address) int32 {
	if id, ok := g.index[addr]; ok {
		return id
	}
	id := int32(len(g.nodes))
	g.nodes = append(g.nodes, node{addr: addr})
	g.index[addr] = id
	return id
}

func (g *Graph) search(list []int32, addr program.Address) (int, bool) {
	return slices.BinarySearchFunc(list, addr, func(id int32, a program.Address) int {
		return cmp.Compare(g.nodes[id].addr, a)
	})
}

// AddEdge records that to depends on from, inserting missing nodes. It
// reports whether the edge is new.
func (g *Graph) AddEdge(from, to program.Address) bool {
	f, t := g.id(from), g.id(to)
	pos, found := g.search(g.nodes[t].preds, from)
	if found {
		return false
	}
	g.nodes[t].preds = slices.Insert(g.nodes[t].preds, pos, f)
	pos, _ = g.search(g.nodes[f].succs, to)
	g.nodes[f].succs = slices.Insert(g.nodes[f].succs, pos, t)
	g.edges++
	return true
}

// HasEdge reports whether to depends on from.
func (g *Graph) HasEdge(from, to program.Address) bool {
	t, ok := g.index[to]
	if !ok {
		return false
	}
	_, found := g.search(g.nodes[t].preds, from)
	return found
}

// RemoveEdge deletes the edge from -> to and reports whether it existed.
// Nodes are kept.
func (g *Graph) RemoveEdge(from, to program.Address) bool {
	t, ok := g.index[to]
	if !ok {
		return false
	}
	f, ok := g.index[from]
	if !ok {
		return false
	}
	pos, found := g.search(g.nodes[t].preds, from)
	if !found {
		return false
	}
	g.nodes[t].preds = slices.Delete(g.nodes[t].preds, pos, pos+1)
	if pos, found := g.search(g.nodes[f].succs, to); found {
		g.nodes[f].succs = slices.Delete(g.nodes[f].succs, pos, pos+1)
	}
	g.edges--
	return true
}

func (g *Graph) addrs(ids []int32) []program.Address {
	out := make([]program.Address, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id].addr
	}
	return out
}

// Predecessors returns the addresses to depends on, ascending.
func (g *Graph) Predecessors(to program.Address) []program.Address {
	t, ok := g.index[to]
	if !ok {
		return nil
	}
	return g.addrs(g.nodes[t].preds)
}

// Successors returns the addresses depending on from, ascending.
func (g *Graph) Successors(from program.Address) []program.Address {
	f, ok := g.index[from]
	if !ok {
		return nil
	}
	return g.addrs(g.nodes[f].succs)
}

// InDegree returns the number of predecessors of to.
func (g *Graph) InDegree(to program.Address) int {
	t, ok := g.index[to]
	if !ok {
		return 0
	}
	return len(g.nodes[t].preds)
}

// Nodes returns every node address, ascending.
func (g *Graph) Nodes() []program.Address {
	out := make([]program.Address, len(g.nodes))
	for i := range g.nodes {
		out[i] = g.nodes[i].addr
	}
	slices.Sort(out)
	return out
}

// Edges returns every edge ordered by (To, From).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for _, to := range g.Nodes() {
		for _, from := range g.Predecessors(to) {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		index: make(map[program.Address]int32, len(g.index)),
		nodes: make([]node, len(g.nodes)),
		edges: g.edges,
	}
	for k, v := range g.index {
		c.index[k] = v
	}
	for i, n := range g.nodes {
		c.nodes[i] = node{addr: n.addr, preds: slices.Clone(n.preds), succs: slices.Clone(n.succs)}
	}
	return c
}

// SubgraphOf reports whether every node and edge of g is present in other.
func (g *Graph) SubgraphOf(other *Graph) bool {
	for _, n := range g.nodes {
		if !other.HasNode(n.addr) {
			return false
		}
	}
	for _, e := range g.Edges() {
		if !other.HasEdge(e.From, e.To) {
			return false
		}
	}
	return true
}

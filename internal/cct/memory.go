package cct

import (
	"sort"
	"sync"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

type memNode struct {
	addr     program.Address
	parent   NodeID
	children []NodeID
	metrics  map[MetricID]float64
}

// MemoryTree is an in-memory Tree safe for concurrent use.
type MemoryTree struct {
	mu    sync.RWMutex
	nodes []memNode
}

// NewMemoryTree returns an empty tree.
func NewMemoryTree() *MemoryTree {
	return &MemoryTree{}
}

func (t *MemoryTree) insert(parent NodeID, addr program.Address) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, memNode{addr: addr, parent: parent})
	if parent != NoNode {
		t.nodes[parent].children = append(t.nodes[parent].children, id)
	}
	return id
}

// AddRoot creates a root node.
func (t *MemoryTree) AddRoot(addr program.Address) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(NoNode, addr)
}

func (t *MemoryTree) InsertLeaf(parent NodeID, addr program.Address) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(parent, addr)
}

func (t *MemoryTree) Address(n NodeID) program.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[n].addr
}

func (t *MemoryTree) Parent(n NodeID) NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[n].parent
}

// Children returns the children of n in insertion order.
func (t *MemoryTree) Children(n NodeID) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]NodeID(nil), t.nodes[n].children...)
}

// Len returns the number of nodes.
func (t *MemoryTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func (t *MemoryTree) Metric(n NodeID, id MetricID) float64 {
	if id == NoMetric {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[n].metrics[id]
}

func (t *MemoryTree) AddMetric(n NodeID, id MetricID, delta float64) {
	if id == NoMetric {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	node := &t.nodes[n]
	if node.metrics == nil {
		node.metrics = make(map[MetricID]float64)
	}
	node.metrics[id] += delta
}

type pairKey struct{ rank, thread int }

type metricIDs struct{ inclusive, exclusive MetricID }

// MemoryRegistry is an in-memory Registry safe for concurrent use. Every
// (rank, thread) pair owns its own metric columns.
type MemoryRegistry struct {
	mu      sync.RWMutex
	threads []int
	pairs   map[pairKey]map[string]metricIDs
	names   []string
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{pairs: make(map[pairKey]map[string]metricIDs)}
}

// AddPair declares a (rank, thread) pair carrying the given metric names.
// Pairs are created with no metrics when names is empty; such pairs are the
// CPU-only threads the engine skips.
func (r *MemoryRegistry) AddPair(rank, thread int, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.threads) <= rank {
		r.threads = append(r.threads, 0)
	}
	r.threads[rank] = max(r.threads[rank], thread+1)

	key := pairKey{rank, thread}
	cols, ok := r.pairs[key]
	if !ok {
		cols = make(map[string]metricIDs)
		r.pairs[key] = cols
	}
	for _, name := range names {
		r.addLocked(cols, name)
	}
}

func (r *MemoryRegistry) addLocked(cols map[string]metricIDs, name string) {
	if _, ok := cols[name]; ok {
		return
	}
	ids := metricIDs{inclusive: MetricID(len(r.names)), exclusive: MetricID(len(r.names) + 1)}
	r.names = append(r.names, name, name)
	cols[name] = ids
}

func (r *MemoryRegistry) Ranks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

func (r *MemoryRegistry) Threads(rank int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rank < 0 || rank >= len(r.threads) {
		return 0
	}
	return r.threads[rank]
}

func (r *MemoryRegistry) MetricID(rank, thread int, name string, inclusive bool) MetricID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.pairs[pairKey{rank, thread}][name]
	if !ok {
		return NoMetric
	}
	if inclusive {
		return ids.inclusive
	}
	return ids.exclusive
}

// Register adds name to every pair that carries at least one metric.
func (r *MemoryRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]pairKey, 0, len(r.pairs))
	for k, cols := range r.pairs {
		if len(cols) > 0 {
			keys = append(keys, k)
		}
	}
	// Stable id assignment regardless of map order.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].rank != keys[j].rank {
			return keys[i].rank < keys[j].rank
		}
		return keys[i].thread < keys[j].thread
	})
	for _, k := range keys {
		r.addLocked(r.pairs[k], name)
	}
}

func (r *MemoryRegistry) Name(id MetricID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.names) {
		return ""
	}
	return r.names[id]
}

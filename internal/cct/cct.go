// Package cct defines the contracts the blame engine needs from the
// calling-context tree and the metric-name registry, together with mutex
// guarded in-memory implementations used by the bundle loader and tests.
package cct

import "github.com/samcharles93/gpuadvisor/internal/program"

// NodeID identifies a node in the calling-context tree.
type NodeID int32

// NoNode is the parent of a root.
const NoNode NodeID = -1

// MetricID identifies one metric column. Inclusive and exclusive variants of
// the same metric name have distinct ids.
type MetricID int32

// NoMetric is returned by Registry.MetricID when the pair does not carry the
// requested metric.
const NoMetric MetricID = -1

// Tree is the externally owned calling-context tree.
type Tree interface {
	// Address returns the instruction address of n.
	Address(n NodeID) program.Address
	// Parent returns the parent of n, or NoNode.
	Parent(n NodeID) NodeID
	// Metric returns the value of metric id at n. Untouched metrics read as
	// zero.
	Metric(n NodeID, id MetricID) float64
	// AddMetric adds delta to metric id at n.
	AddMetric(n NodeID, id MetricID, delta float64)
	// InsertLeaf creates a leaf with zeroed metrics under parent. The tree
	// owns the new node.
	InsertLeaf(parent NodeID, addr program.Address) NodeID
}

// Registry resolves metric names to ids per (rank, thread) pair.
type Registry interface {
	Ranks() int
	Threads(rank int) int
	// MetricID returns the id of name for the pair, or NoMetric.
	MetricID(rank, thread int, name string, inclusive bool) MetricID
	// Register adds a derived metric name to every pair. Registering a name
	// twice is a no-op.
	Register(name string)
	// Name returns the metric name of id.
	Name(id MetricID) string
}

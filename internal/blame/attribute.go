package blame

import (
	"cmp"
	"slices"

	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/depgraph"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// InstructionBlame is one unit of stall blame: Value cycles of stall Metric
// observed at Dst are attributed to Src. Self-attributed stalls have
// Src == Dst.
type InstructionBlame struct {
	Dst      program.Address `json:"dst"`
	Src      program.Address `json:"src"`
	MetricID cct.MetricID    `json:"metric_id"`
	Metric   string          `json:"metric"`
	Value    float64         `json:"value"`
}

func compareBlame(a, b InstructionBlame) int {
	if c := cmp.Compare(a.Dst, b.Dst); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Src, b.Src); c != 0 {
		return c
	}
	return cmp.Compare(a.MetricID, b.MetricID)
}

// Unattributed is a dependency stall left without a cause because no
// producer of the matching class survived pruning.
type Unattributed struct {
	Addr   program.Address `json:"addr"`
	Metric string          `json:"metric"`
	Value  float64         `json:"value"`
}

// Attribution is the outcome of Attribute.
type Attribution struct {
	Facts        []InstructionBlame
	Unattributed []Unattributed
}

// Weight is one producer's share inputs in a multi-producer apportionment.
type Weight struct {
	// Ratio is the summed stall ratio of the producer's paths.
	Ratio float64
	// Paths is the number of surviving paths, used when every Ratio is zero.
	Paths int
	// Issue is the producer's issue count.
	Issue float64
}

// RawWeights returns the unnormalized producer weights
//
//	w_i = (r_i / Σr) · (c_i / Σc)
//
// where r is the path stall ratio and c the issue count. When Σr is zero each
// path weighs one; when Σc is zero issue counts weigh equally.
func RawWeights(weights []Weight) []float64 {
	out := make([]float64, len(weights))
	ratios := make([]float64, len(weights))
	var ratioSum, issueSum float64
	for i, w := range weights {
		ratios[i] = w.Ratio
		ratioSum += w.Ratio
		issueSum += w.Issue
	}
	if ratioSum == 0 {
		for i, w := range weights {
			ratios[i] = float64(max(w.Paths, 1))
			ratioSum += ratios[i]
		}
	}
	for i, w := range weights {
		issue := 1.0 / float64(len(weights))
		if issueSum > 0 {
			issue = w.Issue / issueSum
		}
		out[i] = ratios[i] / ratioSum * issue
	}
	return out
}

// Apportion splits stall across producers as blame_i = stall · w_i / Σw over
// RawWeights, so the shares sum to stall.
func Apportion(stall float64, weights []Weight) []float64 {
	if len(weights) == 0 {
		return []float64{}
	}
	out := RawWeights(weights)
	var wsum float64
	for _, w := range out {
		wsum += w
	}
	if wsum == 0 {
		for i := range out {
			out[i] = stall / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] = stall * out[i] / wsum
	}
	return out
}

// PathStallRatio is the summed exclusive stall samples over the summed
// inclusive instruction samples of the instructions strictly between the
// producer and the consumer along path. It is zero when no sampled
// instruction lies in between.
func PathStallRatio(tree cct.Tree, cg *ContextGraph, cat *program.Catalog, m *PairMetrics,
	from, to program.Address, path Path) float64 {

	var inst, stall float64
	for i, id := range path {
		b, ok := cat.Block(id)
		if !ok {
			continue
		}
		start, end := 0, len(b.Insts)
		if i == 0 {
			start = b.Index(from) + 1
		}
		if i == len(path)-1 {
			end = b.Index(to)
		}
		for _, in := range b.Insts[start:max(start, end)] {
			n, ok := cg.Nodes[in.Addr]
			if !ok {
				continue
			}
			inst += tree.Metric(n, m.InstIn)
			stall += tree.Metric(n, m.StallEx)
		}
	}
	if inst == 0 {
		return 0
	}
	return stall / inst
}

// Attribute blames the stalls of every node of the pruned graph, visited in
// address order. Dependency stalls go to the surviving producers of the
// matching opcode class; self stalls go to the node itself. Blame is added to
// the inclusive and exclusive blame metrics of the blamed node and recorded as
// facts, sorted by (Dst, Src, MetricID).
func Attribute(tree cct.Tree, cg *ContextGraph, pruned *Pruned, cat *program.Catalog, m *PairMetrics) (*Attribution, error) {
	res := &Attribution{}

	for _, to := range pruned.Graph.Nodes() {
		toNode, ok := cg.Nodes[to]
		if !ok {
			return nil, missingAddress("context node", to)
		}

		var execPreds, memPreds []program.Address
		for _, from := range pruned.Graph.Predecessors(to) {
			in, ok := cat.Instruction(from)
			if !ok {
				return nil, missingAddress("producer", from)
			}
			if program.ClassifyOpcode(in.Opcode).StallsOnMemory() {
				memPreds = append(memPreds, from)
			} else {
				execPreds = append(execPreds, from)
			}
		}

		for _, bucket := range []struct {
			stall *StallMetric
			preds []program.Address
		}{
			{&m.ExecDep, execPreds},
			{&m.MemDep, memPreds},
		} {
			value := tree.Metric(toNode, bucket.stall.ID)
			if value == 0 {
				continue
			}
			switch len(bucket.preds) {
			case 0:
				res.Unattributed = append(res.Unattributed, Unattributed{Addr: to, Metric: bucket.stall.Name, Value: value})
			case 1:
				res.blame(tree, cg, bucket.stall, to, bucket.preds[0], value)
			default:
				weights := make([]Weight, len(bucket.preds))
				for i, from := range bucket.preds {
					paths := pruned.Paths[depgraph.Edge{From: from, To: to}]
					weights[i].Paths = len(paths)
					for _, p := range paths {
						weights[i].Ratio += PathStallRatio(tree, cg, cat, m, from, to, p)
					}
					weights[i].Issue = demandIssue(tree, cg.Nodes[from], m)
				}
				for i, share := range Apportion(value, weights) {
					res.blame(tree, cg, bucket.stall, to, bucket.preds[i], share)
				}
			}
		}

		for i := range m.Self {
			s := &m.Self[i]
			if value := tree.Metric(toNode, s.ID); value != 0 {
				res.blame(tree, cg, s, to, to, value)
			}
		}
	}

	slices.SortStableFunc(res.Facts, compareBlame)
	return res, nil
}

func (r *Attribution) blame(tree cct.Tree, cg *ContextGraph, s *StallMetric, dst, src program.Address, value float64) {
	n := cg.Nodes[src]
	tree.AddMetric(n, s.BlameIn, value)
	tree.AddMetric(n, s.BlameEx, value)
	r.Facts = append(r.Facts, InstructionBlame{
		Dst:      dst,
		Src:      src,
		MetricID: s.BlameEx,
		Metric:   s.Blame,
		Value:    value,
	})
}

// Package advisor turns per-block blame into ranked optimization advice and
// drives the per-pair blame analysis of a whole profile.
package advisor

import (
	"container/heap"
	"slices"

	"github.com/samcharles93/gpuadvisor/internal/blame"
)

// DefaultTopBlocks is the number of blocks retained for rule scoring.
const DefaultTopBlocks = 5

// better orders blocks by total blame descending, then by function id and
// block start ascending, so the retained set does not depend on input order.
func better(a, b *blame.BlockBlame) bool {
	if a.Total != b.Total {
		return a.Total > b.Total
	}
	if a.Function != b.Function {
		return a.Function < b.Function
	}
	return a.Start < b.Start
}

// blockHeap keeps the worst retained block at the root.
type blockHeap []*blame.BlockBlame

func (h blockHeap) Len() int           { return len(h) }
func (h blockHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h blockHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *blockHeap) Push(x any) { *h = append(*h, x.(*blame.BlockBlame)) }

func (h *blockHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// SelectTopBlocks returns the k blocks carrying the most blame, best first.
// Blocks without blame are never selected. k <= 0 selects DefaultTopBlocks.
func SelectTopBlocks(fns []blame.FunctionBlame, k int) []*blame.BlockBlame {
	if k <= 0 {
		k = DefaultTopBlocks
	}
	h := make(blockHeap, 0, k+1)
	for i := range fns {
		for j := range fns[i].Blocks {
			b := &fns[i].Blocks[j]
			if b.Total <= 0 {
				continue
			}
			if h.Len() < k {
				heap.Push(&h, b)
				continue
			}
			if better(b, h[0]) {
				h[0] = b
				heap.Fix(&h, 0)
			}
		}
	}

	out := []*blame.BlockBlame(h)
	slices.SortFunc(out, func(a, b *blame.BlockBlame) int {
		if better(a, b) {
			return -1
		}
		if better(b, a) {
			return 1
		}
		return 0
	})
	return out
}

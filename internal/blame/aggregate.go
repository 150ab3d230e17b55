package blame

import (
	"fmt"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

// BlockBlame is the blame landing in one block, keyed by blame metric name.
type BlockBlame struct {
	Function int                `json:"function"`
	Block    int                `json:"block"`
	Start    program.Address    `json:"start"`
	End      program.Address    `json:"end"`
	Blames   map[string]float64 `json:"blames"`
	Total    float64            `json:"total"`
	Facts    []InstructionBlame `json:"-"`
}

// FunctionBlame is the blame landing in one function.
type FunctionBlame struct {
	Function int                `json:"function"`
	Name     string             `json:"name"`
	Start    program.Address    `json:"start"`
	End      program.Address    `json:"end"`
	Blames   map[string]float64 `json:"blames"`
	Total    float64            `json:"total"`
	Blocks   []BlockBlame       `json:"blocks"`
}

func (b *BlockBlame) add(f InstructionBlame) {
	b.Facts = append(b.Facts, f)
	b.Blames[f.Metric] += f.Value
	b.Total += f.Value
}

// Aggregate rolls facts up to blocks and functions in one linear merge. facts
// must be sorted by destination address; each fact is assigned to the block
// containing its destination. A fact whose destination lies outside every
// block of the function being scanned fails with ErrBlameOutsideBlock.
func Aggregate(cat *program.Catalog, facts []InstructionBlame) ([]FunctionBlame, error) {
	fns := cat.Functions()
	out := make([]FunctionBlame, 0, len(fns))

	i := 0
	for _, fn := range fns {
		fb := FunctionBlame{
			Function: fn.ID,
			Name:     fn.Name,
			Start:    fn.Start(),
			End:      fn.End(),
			Blames:   make(map[string]float64),
			Blocks:   make([]BlockBlame, len(fn.Blocks)),
		}
		for j, b := range fn.Blocks {
			fb.Blocks[j] = BlockBlame{
				Function: fn.ID,
				Block:    b.ID,
				Start:    b.Start(),
				End:      b.End(),
				Blames:   make(map[string]float64),
			}
		}

		bi := 0
		for ; i < len(facts) && facts[i].Dst <= fb.End; i++ {
			f := facts[i]
			if i > 0 && f.Dst < facts[i-1].Dst {
				return nil, fmt.Errorf("%w: facts out of order at %s", ErrDataConsistency, f.Dst)
			}
			for bi < len(fb.Blocks) && fb.Blocks[bi].End < f.Dst {
				bi++
			}
			if bi == len(fb.Blocks) || f.Dst < fb.Blocks[bi].Start {
				return nil, fmt.Errorf("%w: %s in function %q", ErrBlameOutsideBlock, f.Dst, fn.Name)
			}
			fb.Blocks[bi].add(f)
			fb.Blames[f.Metric] += f.Value
			fb.Total += f.Value
		}
		out = append(out, fb)
	}

	if i < len(facts) {
		return nil, fmt.Errorf("%w: %s past the last function", ErrBlameOutsideBlock, facts[i].Dst)
	}
	return out, nil
}

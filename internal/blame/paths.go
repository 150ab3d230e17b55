package blame

import (
	"slices"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

// Path is the sequence of block ids a value travels through from its
// producer to its consumer.
type Path []int

// DefaultMaxSteps bounds the blocks entered plus instructions scanned by one
// path search.
const DefaultMaxSteps = 1 << 16

type pathSearch struct {
	cat      *program.Catalog
	from     *program.Instruction
	to       *program.Instruction
	reg      program.Reg
	toBlock  int
	latency  int
	maxSteps int

	steps     int
	exhausted bool
	visited   map[int]bool
	path      []int
	paths     []Path
}

// searchPaths finds every block sequence along which the value of reg written
// by from can reach to without being overwritten and before the latency of
// from is hidden by the issue cycles of the instructions in between.
//
// Call edges are not followed. A block is entered at most once per path,
// except the block holding to, which may always be entered to finish the
// path; a loop-carried dependency within one block therefore yields the path
// [b, b].
func searchPaths(cat *program.Catalog, from, to *program.Instruction, reg program.Reg, maxSteps int) (paths []Path, exhausted bool) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	s := &pathSearch{
		cat:      cat,
		from:     from,
		to:       to,
		reg:      reg,
		toBlock:  to.Block,
		latency:  from.LatencyMax,
		maxSteps: maxSteps,
		visited:  make(map[int]bool),
	}
	fb, ok := cat.Block(from.Block)
	if !ok {
		return nil, false
	}
	s.walk(fb, true, 0)
	return s.paths, s.exhausted
}

func (s *pathSearch) walk(b *program.Block, first bool, cycles int) {
	if s.exhausted {
		return
	}
	s.steps++
	if s.steps > s.maxSteps {
		s.exhausted = true
		return
	}
	final := b.ID == s.toBlock
	start, end := 0, len(b.Insts)
	wrap := false
	if first {
		start = b.Index(s.from.Addr)
		wrap = final && s.from.Addr >= s.to.Addr
	}
	if final && !wrap {
		end = b.Index(s.to.Addr)
	}

	s.visited[b.ID] = true
	s.path = append(s.path, b.ID)
	defer func() {
		s.path = s.path[:len(s.path)-1]
		delete(s.visited, b.ID)
	}()

	for i := start; i < end; i++ {
		s.steps++
		if s.steps > s.maxSteps {
			s.exhausted = true
			return
		}
		in := b.Insts[i]
		if !(first && i == start) && in.Defines(s.reg) {
			return
		}
		cycles += in.Issue
		if cycles >= s.latency {
			return
		}
	}

	if final && !wrap {
		s.paths = append(s.paths, slices.Clone(s.path))
		return
	}
	for _, t := range b.Targets {
		if t.Kind.IsCall() {
			continue
		}
		if s.visited[t.Block] && t.Block != s.toBlock {
			continue
		}
		next, ok := s.cat.Block(t.Block)
		if !ok {
			continue
		}
		s.walk(next, false, cycles)
	}
}

// addPaths appends the paths not already present in dst.
func addPaths(dst []Path, paths []Path) []Path {
	for _, p := range paths {
		if !slices.ContainsFunc(dst, func(q Path) bool { return slices.Equal(p, q) }) {
			dst = append(dst, p)
		}
	}
	return dst
}

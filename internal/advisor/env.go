package advisor

import (
	"github.com/samcharles93/gpuadvisor/internal/arch"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// SourceLine is the source position of an instruction.
type SourceLine struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	LoopDepth int    `json:"loop_depth,omitempty"`
}

// Structure maps instruction addresses to source positions.
type Structure interface {
	Lookup(addr program.Address) (SourceLine, bool)
}

// StructureMap is a Structure backed by a map.
type StructureMap map[program.Address]SourceLine

func (m StructureMap) Lookup(addr program.Address) (SourceLine, bool) {
	l, ok := m[addr]
	return l, ok
}

// Env is what rules may consult besides the block's blame.
type Env struct {
	Catalog   *program.Catalog
	Arch      *arch.Profile
	Structure Structure

	loops map[int]bool
}

// NewEnv prepares a rule environment. structure may be nil.
func NewEnv(cat *program.Catalog, profile *arch.Profile, structure Structure) *Env {
	e := &Env{Catalog: cat, Arch: profile, Structure: structure, loops: make(map[int]bool)}

	// A non-call edge to a block starting at or before the source is a back
	// edge; every block of the function lying between the header and the
	// latch is treated as loop body.
	for _, fn := range cat.Functions() {
		for _, latch := range fn.Blocks {
			for _, t := range latch.Targets {
				if t.Kind.IsCall() {
					continue
				}
				header, ok := cat.Block(t.Block)
				if !ok || header.Start() > latch.Start() {
					continue
				}
				for _, b := range fn.Blocks {
					if b.Start() >= header.Start() && b.End() <= latch.End() {
						e.loops[b.ID] = true
					}
				}
			}
		}
	}
	return e
}

// InLoop reports whether block id is part of a loop, either from the control
// flow or from the source structure.
func (e *Env) InLoop(id int) bool {
	if e.loops[id] {
		return true
	}
	if e.Structure == nil {
		return false
	}
	b, ok := e.Catalog.Block(id)
	if !ok {
		return false
	}
	for _, in := range b.Insts {
		if l, ok := e.Structure.Lookup(in.Addr); ok && l.LoopDepth > 0 {
			return true
		}
	}
	return false
}

// SourceOf returns the first known source position within block id.
func (e *Env) SourceOf(id int) (SourceLine, bool) {
	if e.Structure == nil {
		return SourceLine{}, false
	}
	b, ok := e.Catalog.Block(id)
	if !ok {
		return SourceLine{}, false
	}
	for _, in := range b.Insts {
		if l, ok := e.Structure.Lookup(in.Addr); ok {
			return l, true
		}
	}
	return SourceLine{}, false
}

func (e *Env) opcode(addr program.Address) string {
	if in, ok := e.Catalog.Instruction(addr); ok {
		return in.Opcode
	}
	return ""
}

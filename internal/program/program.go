// Package program holds the static view of a GPU load module: decoded
// instructions, basic blocks and functions as produced by the disassembly and
// CFG recovery stage, indexed by instruction address.
package program

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address is the virtual memory address (vma) of a decoded instruction.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// RegClass distinguishes the register files an instruction can read or write.
type RegClass uint8

const (
	RegGeneral RegClass = iota
	RegPredicate
	RegBarrier
	RegUniform
)

var regClassNames = [...]string{"general", "predicate", "barrier", "uniform"}

func (c RegClass) String() string {
	if int(c) < len(regClassNames) {
		return regClassNames[c]
	}
	return fmt.Sprintf("regclass(%d)", c)
}

// ParseRegClass maps a register class name back to its RegClass.
func ParseRegClass(s string) (RegClass, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RegGeneral, nil
	}
	for i, name := range regClassNames {
		if s == name {
			return RegClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown register class %q", s)
}

// Reg names one register in one register file.
type Reg struct {
	Class RegClass
	ID    int
}

func (r Reg) String() string {
	switch r.Class {
	case RegPredicate:
		return fmt.Sprintf("P%d", r.ID)
	case RegBarrier:
		return fmt.Sprintf("B%d", r.ID)
	case RegUniform:
		return fmt.Sprintf("UR%d", r.ID)
	default:
		return fmt.Sprintf("R%d", r.ID)
	}
}

// ErrConstantRegister is returned for the hardwired operands RZ, URZ, PT and
// UPT. They are never written and carry no dependency.
var ErrConstantRegister = errors.New("constant register")

// ParseReg parses the assembler spelling of a register ("R4", "P0", "B1",
// "UR6"). The hardwired operands fail with ErrConstantRegister.
func ParseReg(s string) (Reg, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "RZ", "URZ", "PT", "UPT":
		return Reg{}, fmt.Errorf("%w %s", ErrConstantRegister, s)
	}
	class, digits := RegGeneral, ""
	switch {
	case strings.HasPrefix(s, "UR"):
		class, digits = RegUniform, s[2:]
	case strings.HasPrefix(s, "R"):
		class, digits = RegGeneral, s[1:]
	case strings.HasPrefix(s, "P"):
		class, digits = RegPredicate, s[1:]
	case strings.HasPrefix(s, "B"):
		class, digits = RegBarrier, s[1:]
	default:
		return Reg{}, fmt.Errorf("unknown register %q", s)
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id < 0 {
		return Reg{}, fmt.Errorf("unknown register %q", s)
	}
	return Reg{Class: class, ID: id}, nil
}

// Instruction is one decoded machine instruction. It is treated as immutable
// once the Catalog has been built and its timing assigned.
type Instruction struct {
	Addr   Address
	Opcode string

	Srcs []Reg
	Dsts []Reg

	// Producers maps each source register to the addresses of the
	// instructions that may have produced its value.
	Producers map[Reg][]Address

	// Block is the id of the owning block.
	Block int

	// Timing, filled in from the architecture model.
	LatencyMin int
	LatencyMax int
	Issue      int
}

// Defines reports whether the instruction writes reg.
func (in *Instruction) Defines(reg Reg) bool {
	for _, d := range in.Dsts {
		if d == reg {
			return true
		}
	}
	return false
}

// ProducedBy reports whether reg is read by the instruction with a value that
// may come from the instruction at addr.
func (in *Instruction) ProducedBy(reg Reg, addr Address) bool {
	for _, p := range in.Producers[reg] {
		if p == addr {
			return true
		}
	}
	return false
}

// TargetKind tags an outgoing control-flow edge of a block.
type TargetKind uint8

const (
	TargetFallthrough TargetKind = iota
	TargetBranch
	TargetCall
	TargetCallFallthrough
)

var targetKindNames = [...]string{"fallthrough", "branch", "call", "call_fallthrough"}

func (k TargetKind) String() string {
	if int(k) < len(targetKindNames) {
		return targetKindNames[k]
	}
	return fmt.Sprintf("target(%d)", k)
}

// ParseTargetKind maps a target kind name back to its TargetKind.
func ParseTargetKind(s string) (TargetKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range targetKindNames {
		if s == name {
			return TargetKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown target kind %q", s)
}

// IsCall reports whether the edge enters or returns from a callee.
func (k TargetKind) IsCall() bool {
	return k == TargetCall || k == TargetCallFallthrough
}

// Target is an outgoing control-flow edge.
type Target struct {
	Block int
	Kind  TargetKind
}

// Block is a basic block: instructions ordered by address plus its
// control-flow successors.
type Block struct {
	ID      int
	Insts   []*Instruction
	Targets []Target
}

// Start returns the address of the first instruction.
func (b *Block) Start() Address { return b.Insts[0].Addr }

// End returns the address of the last instruction.
func (b *Block) End() Address { return b.Insts[len(b.Insts)-1].Addr }

// Contains reports whether addr lies within the block's address range.
func (b *Block) Contains(addr Address) bool {
	return addr >= b.Start() && addr <= b.End()
}

// Index returns the position of the instruction at addr, or -1.
func (b *Block) Index(addr Address) int {
	lo, hi := 0, len(b.Insts)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if b.Insts[mid].Addr < addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(b.Insts) && b.Insts[lo].Addr == addr {
		return lo
	}
	return -1
}

// Function is a set of blocks belonging to one GPU function.
type Function struct {
	ID     int
	Name   string
	Blocks []*Block
}

// Start returns the lowest instruction address of the function.
func (f *Function) Start() Address {
	start := f.Blocks[0].Start()
	for _, b := range f.Blocks[1:] {
		start = min(start, b.Start())
	}
	return start
}

// End returns the highest instruction address of the function.
func (f *Function) End() Address {
	end := f.Blocks[0].End()
	for _, b := range f.Blocks[1:] {
		end = max(end, b.End())
	}
	return end
}

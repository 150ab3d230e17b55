package program

import "strings"

// OpClass is the coarse category of an opcode derived from substring matching
// on the mnemonic and its class tags.
type OpClass uint8

const (
	OpCompute OpClass = iota
	OpGlobalMemory
	OpLocalMemory
	OpSharedMemory
	OpConstantMemory
)

var opClassNames = [...]string{"compute", "global", "local", "shared", "constant"}

func (c OpClass) String() string {
	if int(c) < len(opClassNames) {
		return opClassNames[c]
	}
	return "unknown"
}

// IsMemory reports whether the class is any memory class.
func (c OpClass) IsMemory() bool {
	return c != OpCompute
}

// StallsOnMemory reports whether a dependency on an instruction of this class
// surfaces as a memory-dependency stall at the consumer. Shared memory and
// non-memory producers surface as execution-dependency stalls instead.
func (c OpClass) StallsOnMemory() bool {
	return c.IsMemory() && c != OpSharedMemory
}

// Opcode class tags. The matching is exact substring and the order of the
// checks in ClassifyOpcode is part of the contract.
const (
	tagMemory = "MEMORY"
	tagGlobal = ".GLOBAL"
	tagLocal  = ".LOCAL"
	tagShared = ".SHARED"
)

// ClassifyOpcode returns the class of an opcode string such as
// "LDG.E.64.MEMORY.GLOBAL" or "FFMA".
func ClassifyOpcode(op string) OpClass {
	if !strings.Contains(op, tagMemory) {
		return OpCompute
	}
	switch {
	case strings.Contains(op, tagGlobal):
		return OpGlobalMemory
	case strings.Contains(op, tagLocal):
		return OpLocalMemory
	case strings.Contains(op, tagShared):
		return OpSharedMemory
	default:
		return OpConstantMemory
	}
}

// Mnemonic returns the opcode text before the first modifier.
func Mnemonic(op string) string {
	if i := strings.IndexByte(op, '.'); i >= 0 {
		return op[:i]
	}
	return op
}

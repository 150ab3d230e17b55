package program

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDuplicateAddress = errors.New("program: duplicate instruction address")
	ErrEmptyBlock       = errors.New("program: block has no instructions")
	ErrDuplicateBlock   = errors.New("program: duplicate block id")
	ErrUnknownBlock     = errors.New("program: target references unknown block")
	ErrOverlap          = errors.New("program: overlapping function ranges")

	// ErrDataConsistency reports an address referenced by a dependency or
	// context edge that has no catalog entry.
	ErrDataConsistency = errors.New("data consistency violation")
)

// DefaultInstSize is the encoded size of one instruction on recent NVIDIA GPUs.
const DefaultInstSize = 16

type entry struct {
	inst  *Instruction
	block *Block
	fn    *Function
}

// Catalog is the read-only per-address index over a load module's functions.
// It owns sorted copies of the function and block lists; the instructions
// themselves are shared with the caller.
type Catalog struct {
	entries   map[Address]entry
	blocks    map[int]*Block
	blockFn   map[int]*Function
	preds     map[int][]*Block
	functions []*Function
	addrs     []Address
	instSize  int
}

// NewCatalog indexes functions. Instructions inside each block are sorted by
// address; functions are sorted by start address and must not overlap.
func NewCatalog(functions []*Function, instSize int) (*Catalog, error) {
	if instSize <= 0 {
		instSize = DefaultInstSize
	}
	c := &Catalog{
		entries:  make(map[Address]entry),
		blocks:   make(map[int]*Block),
		blockFn:  make(map[int]*Function),
		preds:    make(map[int][]*Block),
		instSize: instSize,
	}

	for _, f := range functions {
		if len(f.Blocks) == 0 {
			continue
		}
		fn := &Function{ID: f.ID, Name: f.Name, Blocks: slices.Clone(f.Blocks)}
		for _, b := range fn.Blocks {
			if len(b.Insts) == 0 {
				return nil, fmt.Errorf("%w: function %q block %d", ErrEmptyBlock, f.Name, b.ID)
			}
			if _, dup := c.blocks[b.ID]; dup {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateBlock, b.ID)
			}
			slices.SortFunc(b.Insts, func(x, y *Instruction) int {
				return cmpAddr(x.Addr, y.Addr)
			})
			c.blocks[b.ID] = b
			c.blockFn[b.ID] = fn
			for _, in := range b.Insts {
				if _, dup := c.entries[in.Addr]; dup {
					return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, in.Addr)
				}
				in.Block = b.ID
				c.entries[in.Addr] = entry{inst: in, block: b, fn: fn}
				c.addrs = append(c.addrs, in.Addr)
			}
		}
		slices.SortFunc(fn.Blocks, func(x, y *Block) int {
			return cmpAddr(x.Start(), y.Start())
		})
		c.functions = append(c.functions, fn)
	}

	slices.SortFunc(c.functions, func(x, y *Function) int {
		return cmpAddr(x.Start(), y.Start())
	})
	for i := 1; i < len(c.functions); i++ {
		prev, cur := c.functions[i-1], c.functions[i]
		if cur.Start() <= prev.End() {
			return nil, fmt.Errorf("%w: %q and %q", ErrOverlap, prev.Name, cur.Name)
		}
	}
	slices.Sort(c.addrs)

	// Predecessor lists are built in address order so that every consumer
	// sees the same ordering.
	for _, fn := range c.functions {
		for _, b := range fn.Blocks {
			for _, t := range b.Targets {
				if _, ok := c.blocks[t.Block]; !ok {
					return nil, fmt.Errorf("%w: block %d -> %d", ErrUnknownBlock, b.ID, t.Block)
				}
				if t.Kind.IsCall() {
					continue
				}
				if !slices.Contains(c.preds[t.Block], b) {
					c.preds[t.Block] = append(c.preds[t.Block], b)
				}
			}
		}
	}
	return c, nil
}

func cmpAddr(a, b Address) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// InstSize returns the instruction encoding size in bytes.
func (c *Catalog) InstSize() int { return c.instSize }

// Len returns the number of instructions.
func (c *Catalog) Len() int { return len(c.addrs) }

// Addresses returns every instruction address in ascending order. The slice
// must not be modified.
func (c *Catalog) Addresses() []Address { return c.addrs }

// Instruction returns the instruction at addr.
func (c *Catalog) Instruction(addr Address) (*Instruction, bool) {
	e, ok := c.entries[addr]
	return e.inst, ok
}

// BlockOf returns the block containing the instruction at addr.
func (c *Catalog) BlockOf(addr Address) (*Block, bool) {
	e, ok := c.entries[addr]
	return e.block, ok
}

// FunctionOf returns the function containing the instruction at addr.
func (c *Catalog) FunctionOf(addr Address) (*Function, bool) {
	e, ok := c.entries[addr]
	return e.fn, ok
}

// Block returns the block with the given id.
func (c *Catalog) Block(id int) (*Block, bool) {
	b, ok := c.blocks[id]
	return b, ok
}

// BlockFunction returns the function owning the block with the given id.
func (c *Catalog) BlockFunction(id int) (*Function, bool) {
	f, ok := c.blockFn[id]
	return f, ok
}

// Predecessors returns the blocks with a non-call edge into block id, in
// address order of the predecessor.
func (c *Catalog) Predecessors(id int) []*Block {
	return c.preds[id]
}

// Functions returns the functions sorted by start address. Each function's
// blocks are sorted by start address.
func (c *Catalog) Functions() []*Function { return c.functions }

// AssignTiming sets the latency and issue fields of every instruction from
// timing. It must run before the catalog is shared between goroutines.
func (c *Catalog) AssignTiming(timing func(opcode string) (minLat, maxLat, issue int)) {
	for _, addr := range c.addrs {
		in := c.entries[addr].inst
		in.LatencyMin, in.LatencyMax, in.Issue = timing(in.Opcode)
	}
}

// Package bundle decodes analysis bundles: a JSON document carrying the
// static program model of one load module, the sampled metrics of every
// (rank, thread) profile and optional source structure. A decoded bundle is
// materialized into the in-memory calling-context tree and metric registry
// the engine consumes.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// ErrInvalidBundle reports a document that does not describe a usable
// profile.
var ErrInvalidBundle = errors.New("invalid bundle")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidBundle, fmt.Sprintf(format, args...))
}

// Address decodes from a JSON number or a "0x" prefixed string.
type Address program.Address

func (a *Address) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("address %s: %w", b, err)
	}
	*a = Address(v)
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(program.Address(a).String())), nil
}

// Document is the wire form of a bundle.
type Document struct {
	Architecture string      `json:"architecture,omitempty"`
	Functions    []Function  `json:"functions"`
	Profiles     []Profile   `json:"profiles"`
	Structure    []SourceRef `json:"structure,omitempty"`
}

type Function struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Blocks []Block `json:"blocks"`
}

type Block struct {
	ID           int           `json:"id"`
	Targets      []Target      `json:"targets,omitempty"`
	Instructions []Instruction `json:"instructions"`
}

type Target struct {
	Block int    `json:"block"`
	Kind  string `json:"kind"`
}

type Instruction struct {
	Addr   Address  `json:"addr"`
	Opcode string   `json:"opcode"`
	Dsts   []string `json:"dsts,omitempty"`
	Srcs   []string `json:"srcs,omitempty"`
	// Producers maps a source register to the addresses that may have
	// written it.
	Producers map[string][]Address `json:"producers,omitempty"`
}

// Profile is the sampled metrics of one (rank, thread) pair. A profile with
// no metrics is a CPU thread.
type Profile struct {
	Rank    int      `json:"rank"`
	Thread  int      `json:"thread"`
	Metrics []string `json:"metrics,omitempty"`
	Samples []Sample `json:"samples,omitempty"`
}

type Sample struct {
	Addr   Address            `json:"addr"`
	Values map[string]float64 `json:"values"`
}

type SourceRef struct {
	Addr      Address `json:"addr"`
	File      string  `json:"file"`
	Line      int     `json:"line"`
	LoopDepth int     `json:"loop_depth,omitempty"`
}

// Bundle is a decoded document ready for analysis.
type Bundle struct {
	Architecture string
	Functions    []*program.Function
	Tree         *cct.MemoryTree
	Registry     *cct.MemoryRegistry
	Nodes        map[program.Address]cct.NodeID
	Structure    advisor.StructureMap
}

// Input returns the engine input of b.
func (b *Bundle) Input() advisor.Input {
	in := advisor.Input{Tree: b.Tree, Registry: b.Registry, Nodes: b.Nodes}
	if len(b.Structure) > 0 {
		in.Structure = b.Structure
	}
	return in
}

// Decode reads one document from r. Unknown fields are rejected.
func Decode(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	return &doc, nil
}

// Load decodes and materializes a bundle.
func Load(r io.Reader) (*Bundle, error) {
	doc, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// LoadFile loads the bundle stored at path.
func LoadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()
	b, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Build converts the document into the static model and an in-memory
// profile. Every sampled address becomes one leaf under a single GPU root;
// samples of the same address from several profiles share the leaf on their
// own metric columns.
func (d *Document) Build() (*Bundle, error) {
	fns, err := d.functions()
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		Architecture: d.Architecture,
		Functions:    fns,
		Tree:         cct.NewMemoryTree(),
		Registry:     cct.NewMemoryRegistry(),
		Nodes:        make(map[program.Address]cct.NodeID),
		Structure:    make(advisor.StructureMap, len(d.Structure)),
	}

	seen := make(map[[2]int]bool, len(d.Profiles))
	root := b.Tree.AddRoot(0)
	for _, p := range d.Profiles {
		if p.Rank < 0 || p.Thread < 0 {
			return nil, invalid("profile %d/%d: negative rank or thread", p.Rank, p.Thread)
		}
		key := [2]int{p.Rank, p.Thread}
		if seen[key] {
			return nil, invalid("profile %d/%d listed twice", p.Rank, p.Thread)
		}
		seen[key] = true

		b.Registry.AddPair(p.Rank, p.Thread, profileMetrics(p)...)
		for _, s := range p.Samples {
			addr := program.Address(s.Addr)
			n, ok := b.Nodes[addr]
			if !ok {
				n = b.Tree.InsertLeaf(root, addr)
				b.Nodes[addr] = n
			}
			// Leaves carry identical inclusive and exclusive values.
			for name, v := range s.Values {
				if strings.HasPrefix(name, cct.BlamePrefix) {
					return nil, invalid("sample at %s carries derived metric %q", addr, name)
				}
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, invalid("sample at %s: metric %q has value %v, want a finite count >= 0", addr, name, v)
				}
				b.Tree.AddMetric(n, b.Registry.MetricID(p.Rank, p.Thread, name, true), v)
				b.Tree.AddMetric(n, b.Registry.MetricID(p.Rank, p.Thread, name, false), v)
			}
		}
	}

	for _, s := range d.Structure {
		b.Structure[program.Address(s.Addr)] = advisor.SourceLine{File: s.File, Line: s.Line, LoopDepth: s.LoopDepth}
	}
	return b, nil
}

// profileMetrics is the sorted union of declared and sampled metric names.
func profileMetrics(p Profile) []string {
	names := make(map[string]struct{}, len(p.Metrics))
	for _, m := range p.Metrics {
		names[m] = struct{}{}
	}
	for _, s := range p.Samples {
		for m := range s.Values {
			names[m] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(names))
}

func (d *Document) functions() ([]*program.Function, error) {
	out := make([]*program.Function, 0, len(d.Functions))
	for _, f := range d.Functions {
		fn := &program.Function{ID: f.ID, Name: f.Name}
		for _, blk := range f.Blocks {
			pb := &program.Block{ID: blk.ID}
			for _, t := range blk.Targets {
				kind, err := program.ParseTargetKind(t.Kind)
				if err != nil {
					return nil, invalid("function %q block %d: %v", f.Name, blk.ID, err)
				}
				pb.Targets = append(pb.Targets, program.Target{Block: t.Block, Kind: kind})
			}
			for _, ins := range blk.Instructions {
				in, err := ins.decode()
				if err != nil {
					return nil, invalid("function %q block %d: %v", f.Name, blk.ID, err)
				}
				pb.Insts = append(pb.Insts, in)
			}
			fn.Blocks = append(fn.Blocks, pb)
		}
		out = append(out, fn)
	}
	return out, nil
}

func (ins *Instruction) decode() (*program.Instruction, error) {
	addr := program.Address(ins.Addr)
	if ins.Opcode == "" {
		return nil, fmt.Errorf("instruction %s has no opcode", addr)
	}
	in := &program.Instruction{Addr: addr, Opcode: ins.Opcode}

	regs := func(names []string) ([]program.Reg, error) {
		out := make([]program.Reg, 0, len(names))
		for _, s := range names {
			r, err := program.ParseReg(s)
			if errors.Is(err, program.ErrConstantRegister) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("instruction %s: %w", addr, err)
			}
			out = append(out, r)
		}
		return out, nil
	}
	var err error
	if in.Dsts, err = regs(ins.Dsts); err != nil {
		return nil, err
	}
	if in.Srcs, err = regs(ins.Srcs); err != nil {
		return nil, err
	}

	if len(ins.Producers) > 0 {
		in.Producers = make(map[program.Reg][]program.Address, len(ins.Producers))
		for _, name := range slices.Sorted(maps.Keys(ins.Producers)) {
			r, err := program.ParseReg(name)
			if err != nil {
				return nil, fmt.Errorf("instruction %s producers: %w", addr, err)
			}
			if !slices.Contains(in.Srcs, r) {
				return nil, fmt.Errorf("instruction %s: producers listed for %s which it does not read", addr, r)
			}
			for _, p := range ins.Producers[name] {
				in.Producers[r] = append(in.Producers[r], program.Address(p))
			}
		}
	}
	return in, nil
}

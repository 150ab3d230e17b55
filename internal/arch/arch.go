// Package arch models per-generation GPU timing: instruction latency bounds,
// issue throughput and the core counts used to reason about latency hiding.
//
// Profiles form a closed set selected by Lookup at configuration time. Each
// profile is a pure data table; memory opcodes are timed by their class tag
// and everything else by mnemonic.
package arch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

var (
	ErrUnknownArchitecture = errors.New("unknown GPU architecture")
	ErrUnknownOpcode       = errors.New("unknown opcode")
)

type unknownOpcodeError struct {
	arch   string
	opcode string
}

func (e unknownOpcodeError) Error() string {
	return fmt.Sprintf("%s: no timing for opcode %q", e.arch, e.opcode)
}

func (e unknownOpcodeError) Unwrap() error {
	return ErrUnknownOpcode
}

// Timing is a latency range plus the cycles a warp occupies the issue slot.
type Timing struct {
	Min   int `yaml:"min" json:"min"`
	Max   int `yaml:"max" json:"max"`
	Issue int `yaml:"issue" json:"issue"`
}

// Model is the capability set the analysis needs from an architecture.
type Model interface {
	Latency(opcode string) (minLat, maxLat int, err error)
	Issue(opcode string) (int, error)
	InstSize() int
}

// Generation enumerates the supported GPU generations.
type Generation int

const (
	SM70 Generation = iota
	SM75
	SM80
	SM86
	numGenerations
)

// Profile is the timing and core-count table of one GPU generation.
type Profile struct {
	Generation Generation
	Name       string
	Device     string

	instSize   int
	sms        int
	schedulers int
	warps      int
	warpSize   int
	clockGHz   float64

	memory [5]Timing // indexed by program.OpClass
	ops    map[string]Timing
}

func (p *Profile) InstSize() int     { return p.instSize }
func (p *Profile) SMs() int          { return p.sms }
func (p *Profile) Schedulers() int   { return p.schedulers }
func (p *Profile) Warps() int        { return p.warps }
func (p *Profile) WarpSize() int     { return p.warpSize }
func (p *Profile) ClockGHz() float64 { return p.clockGHz }

// MaxResidentThreads is the number of threads an SM can keep resident.
func (p *Profile) MaxResidentThreads() int { return p.warps * p.warpSize }

func (p *Profile) timing(opcode string) (Timing, error) {
	if class := program.ClassifyOpcode(opcode); class.IsMemory() {
		return p.memory[class], nil
	}
	t, ok := p.ops[program.Mnemonic(opcode)]
	if !ok {
		return Timing{}, unknownOpcodeError{arch: p.Name, opcode: opcode}
	}
	return t, nil
}

// Latency returns the minimum and maximum cycles before the result of opcode
// is available to a consumer.
func (p *Profile) Latency(opcode string) (int, int, error) {
	t, err := p.timing(opcode)
	if err != nil {
		return 0, 0, err
	}
	return t.Min, t.Max, nil
}

// Issue returns the cycles one warp instruction occupies its scheduler.
func (p *Profile) Issue(opcode string) (int, error) {
	t, err := p.timing(opcode)
	if err != nil {
		return 0, err
	}
	return t.Issue, nil
}

// DefaultFallback is applied to opcodes missing from a profile unless the
// caller configures otherwise.
var DefaultFallback = Timing{Min: 4, Max: 24, Issue: 2}

// Resolve returns the timing of opcode under m, substituting fallback when the
// model has no entry. known is false when the fallback was used.
func Resolve(m Model, opcode string, fallback Timing) (t Timing, known bool) {
	minLat, maxLat, err := m.Latency(opcode)
	if err != nil {
		return fallback, false
	}
	issue, err := m.Issue(opcode)
	if err != nil {
		return fallback, false
	}
	return Timing{Min: minLat, Max: maxLat, Issue: issue}, true
}

// Lookup selects a profile by name. Names are case-insensitive and accept the
// compute capability ("sm_70", "70", "7.0") or a device alias ("v100").
func Lookup(name string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if g, ok := aliases[key]; ok {
		return &profiles[g], nil
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownArchitecture, name, strings.Join(Names(), ", "))
}

// Names returns the canonical profile names in generation order.
func Names() []string {
	out := make([]string, 0, numGenerations)
	for i := range profiles {
		out = append(out, profiles[i].Name)
	}
	return out
}

// Profiles returns every profile in generation order.
func Profiles() []*Profile {
	out := make([]*Profile, 0, numGenerations)
	for i := range profiles {
		out = append(out, &profiles[i])
	}
	return out
}

// Aliases returns every accepted name for g, sorted.
func Aliases(g Generation) []string {
	var out []string
	for k, v := range aliases {
		if v == g {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

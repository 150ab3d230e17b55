package advisor

import (
	"fmt"

	"github.com/samcharles93/gpuadvisor/internal/blame"
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// Rule is one optimizer heuristic. Rules form a closed registry whose order
// breaks score ties.
type Rule struct {
	Name  string
	Title string

	match  func(env *Env, f *blame.InstructionBlame) bool
	inLoop bool
	advise func(env *Env) string
}

// Score sums the blame of b's facts the rule explains.
func (r *Rule) Score(env *Env, b *blame.BlockBlame) float64 {
	if r.inLoop && !env.InLoop(b.Block) {
		return 0
	}
	var s float64
	for i := range b.Facts {
		if r.match(env, &b.Facts[i]) {
			s += b.Facts[i].Value
		}
	}
	return s
}

// Advise returns the advice text of the rule.
func (r *Rule) Advise(env *Env) string {
	return r.advise(env)
}

var (
	execBlame = cct.BlameName(cct.ExecDepStall)
	memBlame  = cct.BlameName(cct.MemDepStall)
)

// strengthOps are mnemonics with a cheaper replacement in common code.
var strengthOps = map[string]bool{
	"MUFU": true,
	"DADD": true, "DMUL": true, "DFMA": true, "DSETP": true, "DMNMX": true,
	"I2F": true, "F2I": true, "F2F": true, "I2I": true, "FRND": true, "I2FP": true, "F2IP": true,
	"IMUL": true, "POPC": true, "FLO": true,
}

var occupancyBlames = map[string]bool{
	cct.BlameName(cct.PipeBusyStall):    true,
	cct.BlameName(cct.NotSelectedStall): true,
	cct.BlameName(cct.MemThrottleStall): true,
}

var registry = [...]Rule{
	{
		Name:   "loop-unroll",
		Title:  "Unroll hot loops",
		inLoop: true,
		match: func(_ *Env, f *blame.InstructionBlame) bool {
			return f.Metric == execBlame
		},
		advise: func(*Env) string {
			return "Execution dependency stalls inside loop bodies. Unrolling the loop and " +
				"interleaving independent iterations gives the scheduler work to issue while " +
				"results are pending."
		},
	},
	{
		Name:  "memory-layout",
		Title: "Improve global memory access",
		match: func(env *Env, f *blame.InstructionBlame) bool {
			return f.Metric == memBlame && program.ClassifyOpcode(env.opcode(f.Src)) == program.OpGlobalMemory
		},
		advise: func(env *Env) string {
			return fmt.Sprintf("Memory dependency stalls waiting on global loads. Coalesce accesses "+
				"across a warp, stage reused data in shared memory or widen loads. Global loads on %s "+
				"take up to %d cycles.", deviceName(env), globalLatency(env))
		},
	},
	{
		Name:  "strength-reduction",
		Title: "Replace expensive arithmetic",
		match: func(env *Env, f *blame.InstructionBlame) bool {
			return f.Metric == execBlame && strengthOps[program.Mnemonic(env.opcode(f.Src))]
		},
		advise: func(*Env) string {
			return "Execution dependency stalls waiting on special function, double precision or " +
				"conversion results. Prefer single precision intrinsics, precomputed reciprocals and " +
				"fewer type conversions."
		},
	},
	{
		Name:  "register-pressure",
		Title: "Reduce register spills",
		match: func(env *Env, f *blame.InstructionBlame) bool {
			return f.Src != f.Dst && program.ClassifyOpcode(env.opcode(f.Src)) == program.OpLocalMemory
		},
		advise: func(env *Env) string {
			threads := 0
			if env.Arch != nil {
				threads = env.Arch.MaxResidentThreads()
			}
			return fmt.Sprintf("Stalls waiting on local memory, which usually holds spilled registers. "+
				"Lower register use per thread or raise the register limit with launch bounds. "+
				"An SM on %s keeps at most %d threads resident.", deviceName(env), threads)
		},
	},
	{
		Name:  "thread-count",
		Title: "Adjust threads per block",
		match: func(_ *Env, f *blame.InstructionBlame) bool {
			return occupancyBlames[f.Metric]
		},
		advise: func(env *Env) string {
			warps, schedulers := 0, 0
			if env.Arch != nil {
				warps, schedulers = env.Arch.Warps(), env.Arch.Schedulers()
			}
			return fmt.Sprintf("Pipe busy, throttle and not-selected stalls point at scheduler contention. "+
				"Tune the block size against %d resident warps shared by %d schedulers per SM.",
				warps, schedulers)
		},
	},
}

// Rules returns the registry in registration order.
func Rules() []Rule {
	return registry[:]
}

func deviceName(env *Env) string {
	if env.Arch == nil {
		return "this device"
	}
	return env.Arch.Device
}

func globalLatency(env *Env) int {
	if env.Arch == nil {
		return 0
	}
	_, hi, _ := env.Arch.Latency("LDG.MEMORY.GLOBAL")
	return hi
}

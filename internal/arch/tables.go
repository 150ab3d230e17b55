package arch

import "github.com/samcharles93/gpuadvisor/internal/program"

var aliases = map[string]Generation{
	"sm_70": SM70, "sm70": SM70, "70": SM70, "7.0": SM70, "volta": SM70, "v100": SM70,
	"sm_75": SM75, "sm75": SM75, "75": SM75, "7.5": SM75, "turing": SM75, "t4": SM75,
	"sm_80": SM80, "sm80": SM80, "80": SM80, "8.0": SM80, "ampere": SM80, "a100": SM80,
	"sm_86": SM86, "sm86": SM86, "86": SM86, "8.6": SM86, "ga102": SM86, "rtx3090": SM86,
}

// Mnemonic groups sharing a pipe. Values are filled per generation.
var (
	fp32Ops    = []string{"FADD", "FMUL", "FFMA", "FMNMX", "FSETP", "FSEL", "FSET", "FCHK", "FSWZADD"}
	intOps     = []string{"IADD3", "IMAD", "IMUL", "LOP3", "SHF", "SHL", "SHR", "ISETP", "IMNMX", "IABS", "SEL", "LEA", "PRMT", "BMSK", "SGXT", "IDP", "IDP4A"}
	moveOps    = []string{"MOV", "CS2R", "P2R", "R2P", "PLOP3", "PSETP", "VOTE", "VOTEU", "UMOV", "UIADD3", "ULDC", "ULOP3", "USHF", "R2UR"}
	fp16Ops    = []string{"HADD2", "HMUL2", "HFMA2", "HSETP2", "HMNMX2"}
	fp64Ops    = []string{"DADD", "DMUL", "DFMA", "DSETP", "DMNMX"}
	convOps    = []string{"I2F", "F2I", "F2F", "I2I", "FRND", "I2FP", "F2IP"}
	specialOps = []string{"MUFU", "POPC", "FLO", "BREV"}
	shuffleOps = []string{"SHFL", "S2R", "S2UR", "MATCH", "REDUX"}
	tensorOps  = []string{"HMMA", "IMMA", "DMMA", "BMMA"}
	controlOps = []string{"BRA", "BRX", "JMP", "JMX", "CALL", "RET", "EXIT", "BSSY", "BSYNC", "BREAK", "WARPSYNC", "NOP", "BAR", "YIELD", "DEPBAR", "MEMBAR", "ERRBAR", "KILL", "BPT", "NANOSLEEP"}
)

type pipeTimings struct {
	fp32, integer, move, fp16, fp64, conv, special, shuffle, tensor, control Timing
}

func opTable(t pipeTimings) map[string]Timing {
	m := make(map[string]Timing)
	put := func(ops []string, tm Timing) {
		for _, op := range ops {
			m[op] = tm
		}
	}
	put(fp32Ops, t.fp32)
	put(intOps, t.integer)
	put(moveOps, t.move)
	put(fp16Ops, t.fp16)
	put(fp64Ops, t.fp64)
	put(convOps, t.conv)
	put(specialOps, t.special)
	put(shuffleOps, t.shuffle)
	put(tensorOps, t.tensor)
	put(controlOps, t.control)
	return m
}

func memoryTable(global, local, shared, constant Timing) [5]Timing {
	var m [5]Timing
	m[program.OpGlobalMemory] = global
	m[program.OpLocalMemory] = local
	m[program.OpSharedMemory] = shared
	m[program.OpConstantMemory] = constant
	return m
}

var profiles = [numGenerations]Profile{
	SM70: {
		Generation: SM70, Name: "sm_70", Device: "V100",
		instSize: 16, sms: 80, schedulers: 4, warps: 64, warpSize: 32, clockGHz: 1.38,
		memory: memoryTable(
			Timing{Min: 28, Max: 1029, Issue: 4},
			Timing{Min: 28, Max: 1029, Issue: 4},
			Timing{Min: 19, Max: 44, Issue: 4},
			Timing{Min: 8, Max: 264, Issue: 4},
		),
		ops: opTable(pipeTimings{
			fp32:    Timing{Min: 4, Max: 4, Issue: 2},
			integer: Timing{Min: 4, Max: 5, Issue: 2},
			move:    Timing{Min: 2, Max: 4, Issue: 1},
			fp16:    Timing{Min: 6, Max: 6, Issue: 2},
			fp64:    Timing{Min: 8, Max: 8, Issue: 4},
			conv:    Timing{Min: 14, Max: 14, Issue: 8},
			special: Timing{Min: 14, Max: 23, Issue: 8},
			shuffle: Timing{Min: 23, Max: 23, Issue: 2},
			tensor:  Timing{Min: 16, Max: 32, Issue: 8},
			control: Timing{Min: 1, Max: 1, Issue: 1},
		}),
	},
	SM75: {
		Generation: SM75, Name: "sm_75", Device: "T4",
		instSize: 16, sms: 40, schedulers: 4, warps: 32, warpSize: 32, clockGHz: 1.59,
		memory: memoryTable(
			Timing{Min: 32, Max: 1100, Issue: 4},
			Timing{Min: 32, Max: 1100, Issue: 4},
			Timing{Min: 19, Max: 44, Issue: 4},
			Timing{Min: 8, Max: 264, Issue: 4},
		),
		ops: opTable(pipeTimings{
			fp32:    Timing{Min: 4, Max: 4, Issue: 2},
			integer: Timing{Min: 4, Max: 5, Issue: 2},
			move:    Timing{Min: 2, Max: 4, Issue: 1},
			fp16:    Timing{Min: 6, Max: 6, Issue: 1},
			fp64:    Timing{Min: 8, Max: 48, Issue: 32},
			conv:    Timing{Min: 14, Max: 14, Issue: 8},
			special: Timing{Min: 14, Max: 23, Issue: 8},
			shuffle: Timing{Min: 23, Max: 23, Issue: 2},
			tensor:  Timing{Min: 14, Max: 28, Issue: 4},
			control: Timing{Min: 1, Max: 1, Issue: 1},
		}),
	},
	SM80: {
		Generation: SM80, Name: "sm_80", Device: "A100",
		instSize: 16, sms: 108, schedulers: 4, warps: 64, warpSize: 32, clockGHz: 1.41,
		memory: memoryTable(
			Timing{Min: 33, Max: 1200, Issue: 4},
			Timing{Min: 33, Max: 1200, Issue: 4},
			Timing{Min: 23, Max: 48, Issue: 4},
			Timing{Min: 8, Max: 280, Issue: 4},
		),
		ops: opTable(pipeTimings{
			fp32:    Timing{Min: 4, Max: 4, Issue: 2},
			integer: Timing{Min: 4, Max: 5, Issue: 2},
			move:    Timing{Min: 2, Max: 4, Issue: 1},
			fp16:    Timing{Min: 5, Max: 5, Issue: 1},
			fp64:    Timing{Min: 8, Max: 8, Issue: 2},
			conv:    Timing{Min: 12, Max: 14, Issue: 8},
			special: Timing{Min: 12, Max: 21, Issue: 8},
			shuffle: Timing{Min: 22, Max: 22, Issue: 2},
			tensor:  Timing{Min: 16, Max: 33, Issue: 4},
			control: Timing{Min: 1, Max: 1, Issue: 1},
		}),
	},
	SM86: {
		Generation: SM86, Name: "sm_86", Device: "GA102",
		instSize: 16, sms: 82, schedulers: 4, warps: 48, warpSize: 32, clockGHz: 1.70,
		memory: memoryTable(
			Timing{Min: 33, Max: 1200, Issue: 4},
			Timing{Min: 33, Max: 1200, Issue: 4},
			Timing{Min: 23, Max: 48, Issue: 4},
			Timing{Min: 8, Max: 280, Issue: 4},
		),
		ops: opTable(pipeTimings{
			fp32:    Timing{Min: 4, Max: 4, Issue: 1},
			integer: Timing{Min: 4, Max: 5, Issue: 2},
			move:    Timing{Min: 2, Max: 4, Issue: 1},
			fp16:    Timing{Min: 5, Max: 5, Issue: 1},
			fp64:    Timing{Min: 8, Max: 96, Issue: 64},
			conv:    Timing{Min: 12, Max: 14, Issue: 8},
			special: Timing{Min: 12, Max: 21, Issue: 8},
			shuffle: Timing{Min: 22, Max: 22, Issue: 2},
			tensor:  Timing{Min: 16, Max: 33, Issue: 8},
			control: Timing{Min: 1, Max: 1, Issue: 1},
		}),
	},
}

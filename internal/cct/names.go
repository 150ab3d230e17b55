package cct

import "strings"

// GPU instruction sampling metric names.
const (
	InstMetric  = "GINST"
	IssueMetric = "GINST:STL_NONE"
	StallMetric = "GINST:STL_ANY"

	ExecDepStall = "GINST:STL_IDEP"
	MemDepStall  = "GINST:STL_GMEM"
	SyncStall    = "GINST:STL_SYNC"

	InvalidStall     = "GINST:STL_INV"
	TextureStall     = "GINST:STL_TMEM"
	FetchStall       = "GINST:STL_IFET"
	PipeBusyStall    = "GINST:STL_PIPE"
	MemThrottleStall = "GINST:STL_MTHR"
	NotSelectedStall = "GINST:STL_NSEL"
	OtherStall       = "GINST:STL_OTHR"
	SleepStall       = "GINST:STL_SLP"
	ConstMemStall    = "GINST:STL_CMEM"
)

// BlamePrefix marks derived metrics holding blame attributed from a stall.
const BlamePrefix = "BLAME "

// DependencyStalls are apportioned across producing instructions.
var DependencyStalls = []string{ExecDepStall, MemDepStall}

// SelfStalls are blamed on the stalled instruction itself.
var SelfStalls = []string{
	ConstMemStall,
	FetchStall,
	InvalidStall,
	MemThrottleStall,
	NotSelectedStall,
	OtherStall,
	PipeBusyStall,
	SleepStall,
	SyncStall,
	TextureStall,
}

// BlameName returns the derived metric name for stall.
func BlameName(stall string) string {
	return BlamePrefix + stall
}

// StallOf strips the blame prefix from a derived metric name.
func StallOf(blame string) (string, bool) {
	return strings.CutPrefix(blame, BlamePrefix)
}

// ShortName drops the instruction metric prefix: "GINST:STL_IDEP" becomes
// "STL_IDEP".
func ShortName(name string) string {
	name, _ = strings.CutPrefix(name, BlamePrefix)
	if _, rest, ok := strings.Cut(name, ":"); ok {
		return rest
	}
	return name
}

// DerivedNames returns every blame metric name the engine writes, dependency
// stalls first.
func DerivedNames() []string {
	out := make([]string, 0, len(DependencyStalls)+len(SelfStalls))
	for _, s := range DependencyStalls {
		out = append(out, BlameName(s))
	}
	for _, s := range SelfStalls {
		out = append(out, BlameName(s))
	}
	return out
}

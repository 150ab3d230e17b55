package bundle

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
	"github.com/samcharles93/gpuadvisor/internal/cct"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

func TestLoadFile(t *testing.T) {
	t.Parallel()

	b, err := LoadFile("testdata/saxpy.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if b.Architecture != "sm_70" {
		t.Fatalf("architecture: got %q", b.Architecture)
	}
	if len(b.Functions) != 1 || len(b.Functions[0].Blocks) != 2 {
		t.Fatalf("functions: got %+v", b.Functions)
	}

	fadd := b.Functions[0].Blocks[0].Insts[3]
	if fadd.Addr != 0x30 || len(fadd.Srcs) != 2 || !fadd.ProducedBy(program.Reg{ID: 1}, 0x00) {
		t.Fatalf("FADD decoded as %+v", fadd)
	}

	if b.Registry.Ranks() != 1 || b.Registry.Threads(0) != 2 {
		t.Fatalf("registry shape: %d ranks, %d threads", b.Registry.Ranks(), b.Registry.Threads(0))
	}
	if b.Registry.MetricID(0, 1, cct.InstMetric, false) != cct.NoMetric {
		t.Fatal("CPU thread carries GPU metrics")
	}

	if len(b.Nodes) != 2 || b.Tree.Len() != 3 {
		t.Fatalf("tree: %d sampled nodes, %d total", len(b.Nodes), b.Tree.Len())
	}
	n := b.Nodes[0x40]
	for _, inclusive := range []bool{true, false} {
		id := b.Registry.MetricID(0, 0, cct.PipeBusyStall, inclusive)
		if got := b.Tree.Metric(n, id); got != 3 {
			t.Fatalf("pipe stall at 0x40 (inclusive=%v): got %v want 3", inclusive, got)
		}
	}

	if l, ok := b.Structure.Lookup(0x40); !ok || l.File != "saxpy.cu" || l.Line != 13 {
		t.Fatalf("structure: got %+v, %v", l, ok)
	}
}

func TestBundleDrivesEngine(t *testing.T) {
	t.Parallel()

	b, err := LoadFile("testdata/saxpy.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	e, err := advisor.NewEngine(advisor.Config{Architecture: b.Architecture}, b.Functions)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := e.Run(context.Background(), b.Input())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AnalyzedPairs != 1 || res.SkippedPairs != 1 {
		t.Fatalf("pairs: analyzed %d skipped %d", res.AnalyzedPairs, res.SkippedPairs)
	}
	if len(res.Advice) == 0 || res.Advice[0].Rule != "memory-layout" {
		t.Fatalf("advice: got %+v", res.Advice)
	}
	if !strings.Contains(res.Advice[0].Text, "saxpy.cu:12") {
		t.Fatalf("advice lacks source line: %q", res.Advice[0].Text)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", `{"functions": [`},
		{"unknown field", `{"functions": [], "profiles": [], "extra": 1}`},
		{"bad address", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": "zz", "opcode": "MOV"}]}]}], "profiles": []}`},
		{"bad register", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": 0, "opcode": "MOV", "dsts": ["Q1"]}]}]}], "profiles": []}`},
		{"bad target", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "targets": [{"block": 0, "kind": "jump"}], "instructions": [{"addr": 0, "opcode": "MOV"}]}]}], "profiles": []}`},
		{"no opcode", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": 0}]}]}], "profiles": []}`},
		{"stray producer", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": 0, "opcode": "MOV", "producers": {"R1": [0]}}]}]}], "profiles": []}`},
		{"duplicate profile", `{"functions": [], "profiles": [{"rank": 0, "thread": 0}, {"rank": 0, "thread": 0}]}`},
		{"negative rank", `{"functions": [], "profiles": [{"rank": -1, "thread": 0}]}`},
		{"derived metric", `{"functions": [], "profiles": [{"rank": 0, "thread": 0, "samples": [{"addr": 0, "values": {"BLAME GINST:STL_IDEP": 1}}]}]}`},
		{"negative sample", `{"functions": [], "profiles": [{"rank": 0, "thread": 0, "samples": [{"addr": 0, "values": {"GINST": 1, "GINST:STL_IDEP": -5}}]}]}`},
		{"constant register producer", `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [{"addr": 0, "opcode": "MOV", "srcs": ["RZ"], "producers": {"RZ": [0]}}]}]}], "profiles": []}`},
	}
	for _, tc := range tests {
		_, err := Load(strings.NewReader(tc.doc))
		if !errors.Is(err, ErrInvalidBundle) {
			t.Fatalf("%s: got %v want ErrInvalidBundle", tc.name, err)
		}
	}
}

func TestBuildRejectsNonFiniteSamples(t *testing.T) {
	t.Parallel()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		doc := Document{Profiles: []Profile{{Samples: []Sample{{Addr: 0x10, Values: map[string]float64{cct.StallMetric: v}}}}}}
		if _, err := doc.Build(); !errors.Is(err, ErrInvalidBundle) {
			t.Fatalf("value %v: got %v want ErrInvalidBundle", v, err)
		}
	}
}

func TestConstantRegistersCarryNoDependency(t *testing.T) {
	t.Parallel()

	doc := `{"functions": [{"id": 0, "name": "k", "blocks": [{"id": 0, "instructions": [
		{"addr": 0, "opcode": "IADD3", "dsts": ["R1"], "srcs": ["RZ", "URZ"]},
		{"addr": 16, "opcode": "ISETP.GE.AND", "dsts": ["P0", "PT"], "srcs": ["R1", "RZ"], "producers": {"R1": [0]}},
		{"addr": 32, "opcode": "MOV", "dsts": ["RZ"], "srcs": ["UPT"]}
	]}]}], "profiles": []}`
	b, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	insts := b.Functions[0].Blocks[0].Insts
	if len(insts[0].Srcs) != 0 || len(insts[0].Dsts) != 1 {
		t.Fatalf("IADD3 operands: srcs %v dsts %v", insts[0].Srcs, insts[0].Dsts)
	}
	if len(insts[1].Dsts) != 1 || insts[1].Dsts[0] != (program.Reg{Class: program.RegPredicate, ID: 0}) {
		t.Fatalf("ISETP dsts: got %v", insts[1].Dsts)
	}
	if len(insts[1].Srcs) != 1 || !insts[1].ProducedBy(program.Reg{ID: 1}, 0) {
		t.Fatalf("ISETP srcs: got %v", insts[1].Srcs)
	}
	if len(insts[2].Srcs) != 0 || len(insts[2].Dsts) != 0 {
		t.Fatalf("MOV operands: srcs %v dsts %v", insts[2].Srcs, insts[2].Dsts)
	}
}

func TestAddressJSON(t *testing.T) {
	t.Parallel()

	var addrs []Address
	if err := json.Unmarshal([]byte(`[16, "0x20", "48"]`), &addrs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []Address{0x10, 0x20, 0x30}
	for i := range want {
		if addrs[i] != want[i] {
			t.Fatalf("address %d: got %#x want %#x", i, addrs[i], want[i])
		}
	}

	b, err := json.Marshal(Address(0x40))
	if err != nil || string(b) != `"0x40"` {
		t.Fatalf("Marshal: got %s, %v", b, err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	doc := Document{
		Architecture: "sm_80",
		Functions: []Function{{ID: 3, Name: "k", Blocks: []Block{{ID: 7, Instructions: []Instruction{
			{Addr: 0x100, Opcode: "MOV", Dsts: []string{"R0"}},
		}}}}},
		Profiles: []Profile{{Rank: 0, Thread: 0, Samples: []Sample{{Addr: 0x100, Values: map[string]float64{cct.InstMetric: 1}}}}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Load(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Functions[0].Blocks[0].Insts[0].Addr != 0x100 || b.Nodes[0x100] == cct.NoNode {
		t.Fatalf("round trip lost the instruction: %+v", b.Functions[0].Blocks[0].Insts[0])
	}
	if b.Input().Structure != nil {
		t.Fatal("empty structure should leave the engine input without one")
	}
}

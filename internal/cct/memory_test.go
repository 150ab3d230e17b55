package cct

import (
	"slices"
	"sync"
	"testing"
)

func TestMemoryTreeMetrics(t *testing.T) {
	t.Parallel()

	tree := NewMemoryTree()
	root := tree.AddRoot(0)
	leaf := tree.InsertLeaf(root, 0x40)

	if tree.Parent(leaf) != root || tree.Parent(root) != NoNode {
		t.Fatalf("unexpected parents: leaf=%d root=%d", tree.Parent(leaf), tree.Parent(root))
	}
	if tree.Address(leaf) != 0x40 {
		t.Fatalf("address: got %s want 0x40", tree.Address(leaf))
	}
	if got := tree.Metric(leaf, 3); got != 0 {
		t.Fatalf("untouched metric: got %v want 0", got)
	}
	tree.AddMetric(leaf, 3, 1.5)
	tree.AddMetric(leaf, 3, 2)
	if got := tree.Metric(leaf, 3); got != 3.5 {
		t.Fatalf("metric: got %v want 3.5", got)
	}
	tree.AddMetric(leaf, NoMetric, 10)
	if got := tree.Metric(leaf, NoMetric); got != 0 {
		t.Fatalf("NoMetric must read zero, got %v", got)
	}
	if got := tree.Children(root); !slices.Equal(got, []NodeID{leaf}) {
		t.Fatalf("children: got %v", got)
	}
}

func TestMemoryTreeConcurrentInsert(t *testing.T) {
	t.Parallel()

	tree := NewMemoryTree()
	root := tree.AddRoot(0)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				n := tree.InsertLeaf(root, 0)
				tree.AddMetric(n, MetricID(i), float64(j))
			}
		}()
	}
	wg.Wait()

	if tree.Len() != 801 {
		t.Fatalf("nodes: got %d want 801", tree.Len())
	}
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	reg.AddPair(0, 0, InstMetric, ExecDepStall)
	reg.AddPair(0, 2)
	reg.AddPair(1, 0, InstMetric)

	if reg.Ranks() != 2 || reg.Threads(0) != 3 || reg.Threads(1) != 1 || reg.Threads(5) != 0 {
		t.Fatalf("shape: ranks=%d threads(0)=%d threads(1)=%d", reg.Ranks(), reg.Threads(0), reg.Threads(1))
	}

	in := reg.MetricID(0, 0, InstMetric, true)
	ex := reg.MetricID(0, 0, InstMetric, false)
	if in == NoMetric || ex == NoMetric || in == ex {
		t.Fatalf("expected distinct inclusive/exclusive ids, got %d %d", in, ex)
	}
	if reg.MetricID(1, 0, InstMetric, true) == in {
		t.Fatalf("pairs must not share metric columns")
	}
	if reg.MetricID(0, 2, InstMetric, true) != NoMetric {
		t.Fatalf("metric-less pair must report NoMetric")
	}
	if reg.Name(ex) != InstMetric {
		t.Fatalf("name: got %q want %q", reg.Name(ex), InstMetric)
	}

	blame := BlameName(ExecDepStall)
	reg.Register(blame)
	reg.Register(blame)
	if reg.MetricID(0, 0, blame, false) == NoMetric || reg.MetricID(1, 0, blame, false) == NoMetric {
		t.Fatalf("derived metric not registered on every GPU pair")
	}
	if reg.MetricID(0, 2, blame, false) != NoMetric {
		t.Fatalf("derived metric registered on a metric-less pair")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	if got := ShortName(BlameName(MemDepStall)); got != "STL_GMEM" {
		t.Fatalf("ShortName: got %q", got)
	}
	if got := ShortName(InstMetric); got != InstMetric {
		t.Fatalf("ShortName(GINST): got %q", got)
	}
	stall, ok := StallOf(BlameName(SyncStall))
	if !ok || stall != SyncStall {
		t.Fatalf("StallOf: got %q, %v", stall, ok)
	}
	if n := len(DerivedNames()); n != len(DependencyStalls)+len(SelfStalls) {
		t.Fatalf("derived names: got %d", n)
	}
}

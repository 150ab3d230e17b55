package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Pair(OutcomeAnalyzed, 3*time.Millisecond)
	c.Pair(OutcomeSkipped, 0)
	c.Pruned(FilterOpcode, 4)
	c.Pruned(FilterLatency, 0)
	c.Unattributed("GINST:STL_GMEM", 2.5)
	c.Stored(7)

	if got := testutil.ToFloat64(c.pairs.WithLabelValues(OutcomeAnalyzed)); got != 1 {
		t.Fatalf("analyzed pairs: got %v want 1", got)
	}
	if got := testutil.ToFloat64(c.edgesPruned.WithLabelValues(FilterOpcode)); got != 4 {
		t.Fatalf("opcode pruned: got %v want 4", got)
	}
	if got := testutil.ToFloat64(c.unattributed.WithLabelValues("GINST:STL_GMEM")); got != 2.5 {
		t.Fatalf("unattributed: got %v want 2.5", got)
	}
	if got := testutil.ToFloat64(c.storedAnalyses); got != 7 {
		t.Fatalf("stored: got %v want 7", got)
	}

	n, err := testutil.GatherAndCount(reg, "gpuadvisor_pair_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("duration series: got %d want 1", n)
	}
}

func TestUnattributedIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	c.Unattributed("GINST:STL_IDEP", 3)
	for _, v := range []float64{-5, 0, math.NaN(), math.Inf(1)} {
		c.Unattributed("GINST:STL_IDEP", v)
	}
	if got := testutil.ToFloat64(c.unattributed.WithLabelValues("GINST:STL_IDEP")); got != 3 {
		t.Fatalf("unattributed: got %v want 3", got)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	t.Parallel()

	var c *Collectors
	c.Pair(OutcomeFailed, time.Second)
	c.Pruned(FilterLatency, 1)
	c.Unattributed("x", 1)
	c.UnknownOpcode(1)
	c.Analysis("ok")
	c.Stored(1)
}

func TestUnregisteredCollectors(t *testing.T) {
	t.Parallel()

	// Two sets on a nil registerer must not collide.
	a, b := New(nil), New(nil)
	a.UnknownOpcode(2)
	b.UnknownOpcode(3)
	if got := testutil.ToFloat64(a.unknownOpcodes); got != 2 {
		t.Fatalf("got %v want 2", got)
	}
}

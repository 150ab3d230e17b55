package main

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
)

// stabilize clears the fields that differ between identical runs, the run id
// and the pair timings, so reports of the same bundle compare byte for byte.
func stabilize(res *advisor.Result) {
	res.RunID = uuid.Nil
	for i := range res.Pairs {
		res.Pairs[i].Duration = 0
	}
}

func writeJSON(w io.Writer, res *advisor.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// writeText prints the ranked advice followed by a line per pair.
func writeText(w io.Writer, res *advisor.Result) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s on %s: %d analyzed, %d skipped, %d failed\n",
		res.RunID, res.Architecture, res.AnalyzedPairs, res.SkippedPairs, res.FailedPairs)
	if len(res.UnknownOpcodes) > 0 {
		fmt.Fprintf(&sb, "fallback latency used for: %s\n", strings.Join(res.UnknownOpcodes, ", "))
	}

	sb.WriteString("\nOptimizations:\n")
	if len(res.Advice) == 0 {
		sb.WriteString("  none (no stall was attributed)\n")
	}
	for _, a := range res.Advice {
		fmt.Fprintf(&sb, "%3d. %s [%s] score %.2f\n", a.Rank, a.Title, a.Rule, a.Score)
		for line := range strings.Lines(a.Text) {
			fmt.Fprintf(&sb, "     %s", line)
		}
		if !strings.HasSuffix(a.Text, "\n") {
			sb.WriteByte('\n')
		}
	}

	sb.WriteString("\nPairs:\n")
	for _, p := range res.Pairs {
		fmt.Fprintf(&sb, "  rank %d thread %d: ", p.Rank, p.Thread)
		switch {
		case p.Skipped:
			sb.WriteString("skipped\n")
			continue
		case p.Error != "":
			fmt.Fprintf(&sb, "failed: %s\n", p.Error)
			continue
		}
		var unattributed float64
		for _, u := range p.Unattributed {
			unattributed += u.Value
		}
		fmt.Fprintf(&sb, "%d blame facts, %.2f unattributed, %d/%d edges pruned, %s\n",
			len(p.Facts), unattributed,
			p.Pruning.OpcodeRemoved+p.Pruning.LatencyRemoved, p.Pruning.Edges, p.Duration)
		for _, b := range p.TopBlocks {
			fmt.Fprintf(&sb, "    block %d of function %d [%s, %s]: %.2f\n",
				b.Block, b.Function, b.Start, b.End, b.Total)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

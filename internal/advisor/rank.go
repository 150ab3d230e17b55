package advisor

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/gpuadvisor/internal/blame"
	"github.com/samcharles93/gpuadvisor/internal/program"
)

// DefaultTopRules is the number of rules turned into advice.
const DefaultTopRules = 3

// HotBlock is a block contributing to a rule's score.
type HotBlock struct {
	Function string          `json:"function"`
	Block    int             `json:"block"`
	Start    program.Address `json:"start"`
	Blame    float64         `json:"blame"`
	File     string          `json:"file,omitempty"`
	Line     int             `json:"line,omitempty"`
}

func (h HotBlock) String() string {
	s := fmt.Sprintf("%s block %d (%s)", h.Function, h.Block, h.Start)
	if h.File != "" {
		s += fmt.Sprintf(" at %s:%d", h.File, h.Line)
	}
	return s
}

// RuleScore is the accumulated score of one rule.
type RuleScore struct {
	Rule   string     `json:"rule"`
	Score  float64    `json:"score"`
	Blocks []HotBlock `json:"blocks,omitempty"`
}

// Advice is one ranked recommendation.
type Advice struct {
	Rank   int        `json:"rank"`
	Rule   string     `json:"rule"`
	Title  string     `json:"title"`
	Score  float64    `json:"score"`
	Text   string     `json:"text"`
	Blocks []HotBlock `json:"blocks,omitempty"`
}

// Score accumulates every rule's score over blocks. The result holds one
// entry per rule in registration order.
func Score(env *Env, blocks []*blame.BlockBlame) []RuleScore {
	rules := Rules()
	out := make([]RuleScore, len(rules))
	for i := range rules {
		out[i].Rule = rules[i].Name
		for _, b := range blocks {
			s := rules[i].Score(env, b)
			if s <= 0 {
				continue
			}
			out[i].Score += s
			out[i].Blocks = append(out[i].Blocks, hotBlock(env, b, s))
		}
		sortHot(out[i].Blocks)
	}
	return out
}

// MergeScores adds src into dst rule by rule. Both must come from Score.
func MergeScores(dst, src []RuleScore) []RuleScore {
	if dst == nil {
		dst = make([]RuleScore, len(src))
		for i := range src {
			dst[i].Rule = src[i].Rule
		}
	}
	for i := range src {
		dst[i].Score += src[i].Score
		for _, h := range src[i].Blocks {
			j := slices.IndexFunc(dst[i].Blocks, func(x HotBlock) bool { return x.Start == h.Start })
			if j < 0 {
				dst[i].Blocks = append(dst[i].Blocks, h)
				continue
			}
			dst[i].Blocks[j].Blame += h.Blame
		}
		sortHot(dst[i].Blocks)
	}
	return dst
}

// Rank orders rules by score descending, ties by registration order, drops
// rules scoring zero and turns the first topN into advice. topN <= 0 uses
// DefaultTopRules.
func Rank(env *Env, scores []RuleScore, topN int) []Advice {
	if topN <= 0 {
		topN = DefaultTopRules
	}
	rules := Rules()

	order := make([]int, 0, len(scores))
	for i := range scores {
		if scores[i].Score > 0 {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b].Score, scores[a].Score)
	})
	if len(order) > topN {
		order = order[:topN]
	}

	out := make([]Advice, 0, len(order))
	for rank, i := range order {
		r := &rules[i]
		blocks := scores[i].Blocks
		if len(blocks) > DefaultTopBlocks {
			blocks = blocks[:DefaultTopBlocks]
		}
		text := r.Advise(env)
		if len(blocks) > 0 {
			names := make([]string, len(blocks))
			for j, b := range blocks {
				names[j] = b.String()
			}
			text += " Hot blocks: " + strings.Join(names, "; ") + "."
		}
		out = append(out, Advice{
			Rank:   rank + 1,
			Rule:   r.Name,
			Title:  r.Title,
			Score:  scores[i].Score,
			Text:   text,
			Blocks: blocks,
		})
	}
	return out
}

func hotBlock(env *Env, b *blame.BlockBlame, score float64) HotBlock {
	h := HotBlock{Block: b.Block, Start: b.Start, Blame: score}
	if fn, ok := env.Catalog.BlockFunction(b.Block); ok {
		h.Function = fn.Name
	}
	if l, ok := env.SourceOf(b.Block); ok {
		h.File, h.Line = l.File, l.Line
	}
	return h
}

func sortHot(blocks []HotBlock) {
	slices.SortFunc(blocks, func(a, b HotBlock) int {
		if c := cmp.Compare(b.Blame, a.Blame); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
}

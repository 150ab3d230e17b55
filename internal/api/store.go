package api

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/gpuadvisor/internal/advisor"
)

// DefaultMaxStored is the number of analyses kept before the oldest is
// evicted.
const DefaultMaxStored = 256

type analysisRecord struct {
	Result    *advisor.Result
	CreatedAt time.Time
}

// Summary describes a stored analysis without its pair results.
type Summary struct {
	ID            uuid.UUID `json:"id"`
	Object        string    `json:"object"`
	Architecture  string    `json:"architecture"`
	CreatedAt     int64     `json:"created_at"`
	AnalyzedPairs int       `json:"analyzed_pairs"`
	SkippedPairs  int       `json:"skipped_pairs"`
	FailedPairs   int       `json:"failed_pairs"`
	TopRule       string    `json:"top_rule,omitempty"`
}

// AnalysisStore keeps finished analyses by run id, oldest evicted first.
type AnalysisStore struct {
	mu       sync.Mutex
	analyses map[uuid.UUID]*analysisRecord
	order    []uuid.UUID
	max      int
}

func NewAnalysisStore(max int) *AnalysisStore {
	if max <= 0 {
		max = DefaultMaxStored
	}
	return &AnalysisStore{
		analyses: make(map[uuid.UUID]*analysisRecord),
		max:      max,
	}
}

// Save stores res and returns the ids evicted to make room.
func (s *AnalysisStore) Save(res *advisor.Result, now time.Time) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[res.RunID]; !ok {
		s.order = append(s.order, res.RunID)
	}
	s.analyses[res.RunID] = &analysisRecord{Result: res, CreatedAt: now}

	var evicted []uuid.UUID
	for len(s.order) > s.max {
		id := s.order[0]
		s.order = s.order[1:]
		delete(s.analyses, id)
		evicted = append(evicted, id)
	}
	return evicted
}

func (s *AnalysisStore) Get(id uuid.UUID) (*analysisRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.analyses[id]
	return rec, ok
}

func (s *AnalysisStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[id]; !ok {
		return false
	}
	delete(s.analyses, id)
	s.order = slices.DeleteFunc(s.order, func(x uuid.UUID) bool { return x == id })
	return true
}

func (s *AnalysisStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

// List returns summaries in insertion order.
func (s *AnalysisStore) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, summarize(s.analyses[id]))
	}
	return out
}

func summarize(rec *analysisRecord) Summary {
	r := rec.Result
	sum := Summary{
		ID:            r.RunID,
		Object:        "analysis",
		Architecture:  r.Architecture,
		CreatedAt:     rec.CreatedAt.Unix(),
		AnalyzedPairs: r.AnalyzedPairs,
		SkippedPairs:  r.SkippedPairs,
		FailedPairs:   r.FailedPairs,
	}
	if len(r.Advice) > 0 {
		sum.TopRule = r.Advice[0].Rule
	}
	return sum
}

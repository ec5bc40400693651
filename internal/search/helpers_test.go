package search

import (
	"context"
	"sync"
	"time"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// cand builds a hydrated candidate.
func cand(id, path string, start, end int, fusedScore float64) *ScoredCandidate {
	return &ScoredCandidate{
		ChunkID:    id,
		FusedScore: fusedScore,
		FinalScore: fusedScore,
		Sources:    SourceVector,
		Chunk:      &store.Chunk{ID: id, SourcePath: path, SpanStart: start, SpanEnd: end},
	}
}

// fakeVector answers SearchVector from a fixed table and counts calls.
type fakeVector struct {
	mu      sync.Mutex
	results map[string][]RankedItem
	errs    map[string]error
	delay   map[string]time.Duration
	// ignoreCtx sleeps out every delay even after ctx is done.
	ignoreCtx bool
	calls     []string

	inFlight int
	peak     int
}

func (f *fakeVector) SearchVector(ctx context.Context, text string, k int) ([]RankedItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	d := f.delay[text]
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if d > 0 && f.ignoreCtx {
		time.Sleep(d)
	} else if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	items := f.results[text]
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

func (f *fakeVector) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeVector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

package search

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Expansion defaults.
const (
	DefaultMaxRelated         = 8
	DefaultStabilityThreshold = 0.7
	DefaultExpandConcurrency  = 4
	DefaultAdapterTimeout     = 5 * time.Second
)

// ExpanderConfig bounds entity expansion.
type ExpanderConfig struct {
	// MaxRelated caps k_related.
	MaxRelated int
	// StabilityThreshold discards matches whose adjacency score is lower.
	StabilityThreshold float64
	// Concurrency is the worker pool size.
	Concurrency int
	// Timeout bounds each vector call.
	Timeout time.Duration
}

// ExpandStats summarizes one expansion pass.
type ExpandStats struct {
	Entities  int `json:"entities"`
	KRelated  int `json:"k_related"`
	Calls     int `json:"calls"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Discarded int `json:"discarded"`
	Boosted   int `json:"boosted"`
	Added     int `json:"added"`
}

// EntityExpander pulls in chunks adjacent to the query's entities by
// running one vector search per entity.
type EntityExpander struct {
	vec VectorSearcher
	cfg ExpanderConfig
}

// NewEntityExpander creates an expander over vec. Zero config values take
// defaults.
func NewEntityExpander(vec VectorSearcher, cfg ExpanderConfig) *EntityExpander {
	if cfg.MaxRelated <= 0 {
		cfg.MaxRelated = DefaultMaxRelated
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = DefaultStabilityThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultExpandConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAdapterTimeout
	}
	return &EntityExpander{vec: vec, cfg: cfg}
}

// KRelated returns min(MaxRelated, baseK + 2*entities).
func (e *EntityExpander) KRelated(baseK, entities int) int {
	return min(e.cfg.MaxRelated, baseK+2*entities)
}

// Expand queries the vector searcher once per entity and merges matches
// into cands. A match scores adjacency * (1 - 0.5*stability). An existing
// candidate keeps the larger of its fused score and the match score; a new
// one is appended. Both carry SourceEntity. Results merge in entity order
// and the output is sorted by FusedScore, so completion order never shows.
//
// With no entities Expand returns cands untouched and makes no calls. A
// failed or timed-out entity call contributes nothing. The only error is
// cancellation of ctx.
func (e *EntityExpander) Expand(ctx context.Context, cands []*ScoredCandidate, entities []string, baseK int, stability float64) ([]*ScoredCandidate, ExpandStats, error) {
	stats := ExpandStats{Entities: len(entities)}
	if len(entities) == 0 {
		return cands, stats, nil
	}
	k := e.KRelated(baseK, len(entities))
	stats.KRelated = k
	if k <= 0 {
		return cands, stats, nil
	}

	results := make([][]RankedItem, len(entities))
	failures := make([]error, len(entities))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, entity := range entities {
		g.Go(func() error {
			items, err := CallWithTimeout(ctx, e.cfg.Timeout, func(callCtx context.Context) ([]RankedItem, error) {
				return e.vec.SearchVector(callCtx, entity, k)
			})
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()
	stats.Calls = len(entities)

	if err := ctx.Err(); err != nil {
		return cands, stats, fmt.Errorf("entity expansion interrupted: %w", err)
	}

	for _, err := range failures {
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			stats.TimedOut++
		default:
			stats.Failed++
		}
	}

	discount := 1 - 0.5*clamp01(stability)
	out := make([]*ScoredCandidate, len(cands), len(cands)+k*len(entities))
	copy(out, cands)
	byID := make(map[string]*ScoredCandidate, len(out))
	for _, c := range out {
		byID[c.ChunkID] = c
	}

	for _, items := range results {
		for _, item := range items {
			if item.Score < e.cfg.StabilityThreshold {
				stats.Discarded++
				continue
			}
			score := item.Score * discount
			if c, ok := byID[item.ChunkID]; ok {
				if score > c.FusedScore {
					c.FusedScore = score
					c.FinalScore = score
				}
				if !c.Sources.Has(SourceEntity) {
					stats.Boosted++
				}
				c.Sources |= SourceEntity
				continue
			}
			c := &ScoredCandidate{
				ChunkID:    item.ChunkID,
				FusedScore: score,
				FinalScore: score,
				Sources:    SourceEntity,
			}
			byID[item.ChunkID] = c
			out = append(out, c)
			stats.Added++
		}
	}

	SortByFused(out)
	return out, stats, nil
}

// HopEntities derives second-hop entities from the top n entity-sourced
// candidates: their source file names without extension, unique, in
// score order. Candidates must be hydrated.
func HopEntities(cands []*ScoredCandidate, n int, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	var out []string
	picked := 0
	for _, c := range cands {
		if picked == n {
			break
		}
		if !c.Sources.Has(SourceEntity) || c.Chunk == nil {
			continue
		}
		picked++
		base := path.Base(strings.ReplaceAll(c.Chunk.SourcePath, "\\", "/"))
		name := strings.TrimSuffix(base, path.Ext(base))
		if name == "" {
			continue
		}
		if _, dup := skip[name]; dup {
			continue
		}
		skip[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

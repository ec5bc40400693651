package search

import "slices"

// Pre-filter defaults.
const (
	DefaultMinCandidates = 3
	DefaultMaxPerSource  = 3
)

// PreFilterConfig bounds the pre-filter.
type PreFilterConfig struct {
	// MinCandidates is the recall floor: below-threshold candidates are
	// re-admitted until this many survive.
	MinCandidates int
	// MaxPerSource caps candidates per source path.
	MaxPerSource int
}

// PreFilter trims fused candidates by per-source cap and similarity
// threshold without starving later stages.
type PreFilter struct {
	cfg PreFilterConfig
}

// NewPreFilter creates a pre-filter. Non-positive values take defaults.
func NewPreFilter(cfg PreFilterConfig) *PreFilter {
	if cfg.MinCandidates <= 0 {
		cfg.MinCandidates = DefaultMinCandidates
	}
	if cfg.MaxPerSource <= 0 {
		cfg.MaxPerSource = DefaultMaxPerSource
	}
	return &PreFilter{cfg: cfg}
}

// Filter applies the per-source cap, then drops candidates whose
// FusedScore is below the profile threshold. If fewer than the floor
// survive, the best dropped ones are re-admitted. Survivors keep their
// input order. Nothing is added that was not in cands.
func (p *PreFilter) Filter(cands []*ScoredCandidate, profile RetrievalProfile) []*ScoredCandidate {
	ranked := slices.Clone(cands)
	SortByFused(ranked)

	perSource := make(map[string]int)
	keep := make(map[*ScoredCandidate]bool, len(ranked))
	var below []*ScoredCandidate
	for _, c := range ranked {
		path := c.SourcePath()
		if perSource[path] >= p.cfg.MaxPerSource {
			continue
		}
		perSource[path]++
		if c.FusedScore >= profile.SimilarityThreshold {
			keep[c] = true
		} else {
			below = append(below, c)
		}
	}

	// below is already in descending score order.
	for _, c := range below {
		if len(keep) >= p.cfg.MinCandidates {
			break
		}
		keep[c] = true
	}

	out := make([]*ScoredCandidate, 0, len(keep))
	for _, c := range cands {
		if keep[c] {
			out = append(out, c)
		}
	}
	return out
}

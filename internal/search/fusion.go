package search

import (
	"slices"
)

// DefaultRRFConstant is the RRF smoothing constant.
const DefaultRRFConstant = 60

// FusionMode names how the two rankings were combined.
type FusionMode string

const (
	FusionRRF        FusionMode = "rrf"
	FusionNormalized FusionMode = "normalized"
)

// Fusion merges a vector ranking and a lexical ranking.
//
// RRF: score(d) = Σ weight_i / (k + rank_i), rank 1-indexed. A chunk absent
// from a list gets nothing from it; there is no missing-rank penalty.
type Fusion struct {
	K int
}

// NewFusion creates a fusion with constant k. k <= 0 selects 60.
func NewFusion(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse combines the rankings with weighted RRF. RawScore keeps the sum and
// FusedScore is RawScore divided by the best RawScore, so the top
// candidate scores 1. Duplicate IDs within one list keep their first rank.
// Output is sorted by FusedScore with the standard tie-break.
func (f *Fusion) Fuse(vec, lex []RankedItem, w Weights) []*ScoredCandidate {
	if len(vec) == 0 && len(lex) == 0 {
		return []*ScoredCandidate{}
	}

	byID := make(map[string]*ScoredCandidate, len(vec)+len(lex))
	get := func(id string) *ScoredCandidate {
		c, ok := byID[id]
		if !ok {
			c = &ScoredCandidate{ChunkID: id}
			byID[id] = c
		}
		return c
	}

	rank := 0
	for _, item := range vec {
		c := get(item.ChunkID)
		if c.VectorRank > 0 {
			continue
		}
		rank++
		c.VectorRank = rank
		c.VectorScore = item.Score
		c.Sources |= SourceVector
		c.RawScore += w.Vector / float64(f.K+rank)
	}
	rank = 0
	for _, item := range lex {
		c := get(item.ChunkID)
		if c.LexicalRank > 0 {
			continue
		}
		rank++
		c.LexicalRank = rank
		c.LexicalScore = item.Score
		c.Sources |= SourceLexical
		c.RawScore += w.Lexical / float64(f.K+rank)
	}

	return finishFusion(byID, func(c *ScoredCandidate) float64 { return c.RawScore })
}

// FuseNormalized min-max normalizes each list's scores and combines them
// as (wv*nv + wl*nl) / (wv + wl). A list of one, or one whose scores are
// all equal, normalizes to 1. An absent list contributes 0.
func (f *Fusion) FuseNormalized(vec, lex []RankedItem, w Weights) []*ScoredCandidate {
	if len(vec) == 0 && len(lex) == 0 {
		return []*ScoredCandidate{}
	}

	byID := make(map[string]*ScoredCandidate, len(vec)+len(lex))
	nv := make(map[string]float64, len(vec))
	nl := make(map[string]float64, len(lex))

	add := func(items []RankedItem, norm map[string]float64, flag SourceFlag) {
		lo, hi := scoreRange(items)
		rank := 0
		for _, item := range items {
			if _, dup := norm[item.ChunkID]; dup {
				continue
			}
			rank++
			c, ok := byID[item.ChunkID]
			if !ok {
				c = &ScoredCandidate{ChunkID: item.ChunkID}
				byID[item.ChunkID] = c
			}
			c.Sources |= flag
			if flag == SourceVector {
				c.VectorRank, c.VectorScore = rank, item.Score
			} else {
				c.LexicalRank, c.LexicalScore = rank, item.Score
			}
			if hi == lo {
				norm[item.ChunkID] = 1
			} else {
				norm[item.ChunkID] = (item.Score - lo) / (hi - lo)
			}
		}
	}
	add(vec, nv, SourceVector)
	add(lex, nl, SourceLexical)

	total := w.Vector + w.Lexical
	for id, c := range byID {
		if total > 0 {
			c.RawScore = (w.Vector*nv[id] + w.Lexical*nl[id]) / total
		}
	}
	return finishFusion(byID, func(c *ScoredCandidate) float64 { return c.RawScore })
}

func scoreRange(items []RankedItem) (lo, hi float64) {
	for i, item := range items {
		if i == 0 || item.Score < lo {
			lo = item.Score
		}
		if i == 0 || item.Score > hi {
			hi = item.Score
		}
	}
	return lo, hi
}

// finishFusion normalizes by the maximum raw score and sorts.
func finishFusion(byID map[string]*ScoredCandidate, raw func(*ScoredCandidate) float64) []*ScoredCandidate {
	out := make([]*ScoredCandidate, 0, len(byID))
	var best float64
	for _, c := range byID {
		out = append(out, c)
		best = max(best, raw(c))
	}
	for _, c := range out {
		if best > 0 {
			c.FusedScore = raw(c) / best
		}
		c.FinalScore = c.FusedScore
	}
	slices.SortFunc(out, compareBy(fused))
	return out
}

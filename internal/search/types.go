// Package search holds the ranking core of rehydration: the intent router,
// weighted rank fusion, the pre-filter, entity expansion, the heuristic
// reranker and the deduplicator. Every stage is a pure function of its
// inputs except the expander, which calls back into a VectorSearcher.
package search

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// RankedItem is one adapter hit. Adapters return them by descending score.
type RankedItem struct {
	ChunkID string
	Score   float64
}

// VectorSearcher ranks chunks by dense similarity to text.
type VectorSearcher interface {
	SearchVector(ctx context.Context, text string, k int) ([]RankedItem, error)
}

// LexicalSearcher ranks chunks by BM25 relevance to text.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, text string, k int) ([]RankedItem, error)
}

// SourceFlag records which stages contributed a candidate.
type SourceFlag uint8

const (
	SourceVector SourceFlag = 1 << iota
	SourceLexical
	SourceEntity
)

// Has reports whether f includes s.
func (f SourceFlag) Has(s SourceFlag) bool { return f&s != 0 }

// String lists the set flags, e.g. "vector+lexical".
func (f SourceFlag) String() string {
	var parts []string
	if f.Has(SourceVector) {
		parts = append(parts, "vector")
	}
	if f.Has(SourceLexical) {
		parts = append(parts, "lexical")
	}
	if f.Has(SourceEntity) {
		parts = append(parts, "entity")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// MarshalText renders the flag set for JSON traces.
func (f SourceFlag) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// ScoredCandidate is a chunk moving through the pipeline. Ranks are
// 1-indexed; 0 means the chunk was absent from that list.
type ScoredCandidate struct {
	ChunkID      string     `json:"chunk_id"`
	VectorRank   int        `json:"vector_rank,omitempty"`
	LexicalRank  int        `json:"lexical_rank,omitempty"`
	VectorScore  float64    `json:"vector_score,omitempty"`
	LexicalScore float64    `json:"lexical_score,omitempty"`
	RawScore     float64    `json:"raw_score"`
	FusedScore   float64    `json:"fused_score"`
	FinalScore   float64    `json:"final_score"`
	Sources      SourceFlag `json:"sources"`
	Dropped      bool       `json:"dropped,omitempty"`
	DroppedBy    string     `json:"dropped_by,omitempty"`

	Chunk     *store.Chunk `json:"-"`
	Embedding []float32    `json:"-"`
}

// SourcePath returns the hydrated chunk's path, or "" before hydration.
func (c *ScoredCandidate) SourcePath() string {
	if c.Chunk == nil {
		return ""
	}
	return c.Chunk.SourcePath
}

// compareBy orders two candidates by score descending, then raw vector
// score descending, then chunk ID ascending. Every emission point sorts
// with it so output never depends on map or goroutine order.
func compareBy(score func(*ScoredCandidate) float64) func(a, b *ScoredCandidate) int {
	return func(a, b *ScoredCandidate) int {
		if c := cmp.Compare(score(b), score(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.VectorScore, a.VectorScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	}
}

func fused(c *ScoredCandidate) float64 { return c.FusedScore }
func final(c *ScoredCandidate) float64 { return c.FinalScore }

// SortByFused sorts cands in place by FusedScore with the standard
// tie-break.
func SortByFused(cands []*ScoredCandidate) { slices.SortStableFunc(cands, compareBy(fused)) }

// SortByFinal sorts cands in place by FinalScore with the standard
// tie-break.
func SortByFinal(cands []*ScoredCandidate) { slices.SortStableFunc(cands, compareBy(final)) }

// Live returns the candidates not marked dropped, preserving order.
func Live(cands []*ScoredCandidate) []*ScoredCandidate {
	out := make([]*ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		if !c.Dropped {
			out = append(out, c)
		}
	}
	return out
}

// Weights are the per-ranker fusion weights.
type Weights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
}

// DefaultWeights weighs both rankers equally.
func DefaultWeights() Weights { return Weights{Vector: 1, Lexical: 1} }

// ProfileName names a retrieval profile.
type ProfileName string

const (
	ProfileSimple   ProfileName = "simple"
	ProfileModerate ProfileName = "moderate"
	ProfileComplex  ProfileName = "complex"
)

// RetrievalProfile is a fixed parameter set chosen by the router.
type RetrievalProfile struct {
	Name                  ProfileName `json:"name"`
	TopK                  int         `json:"top_k"`
	SimilarityThreshold   float64     `json:"similarity_threshold"`
	ContextWindowTokens   int         `json:"context_window_tokens"`
	EnableReranking       bool        `json:"enable_reranking"`
	EnableEntityExpansion bool        `json:"enable_entity_expansion"`
	EnableMultiHop        bool        `json:"enable_multi_hop"`
}

// ProfileTable holds one profile per complexity band.
type ProfileTable struct {
	Simple   RetrievalProfile
	Moderate RetrievalProfile
	Complex  RetrievalProfile
}

// DefaultProfiles returns the built-in profile table.
func DefaultProfiles() ProfileTable {
	return ProfileTable{
		Simple: RetrievalProfile{
			Name: ProfileSimple, TopK: 10, SimilarityThreshold: 0.35, ContextWindowTokens: 2000,
		},
		Moderate: RetrievalProfile{
			Name: ProfileModerate, TopK: 20, SimilarityThreshold: 0.30, ContextWindowTokens: 4000,
			EnableReranking: true, EnableEntityExpansion: true,
		},
		Complex: RetrievalProfile{
			Name: ProfileComplex, TopK: 30, SimilarityThreshold: 0.25, ContextWindowTokens: 8000,
			EnableReranking: true, EnableEntityExpansion: true, EnableMultiHop: true,
		},
	}
}

// DedupeMode selects the deduplication rule.
type DedupeMode string

const (
	DedupeFile        DedupeMode = "file"
	DedupeFileOverlap DedupeMode = "file+overlap"
)

// Valid reports whether m is a known mode.
func (m DedupeMode) Valid() bool { return m == DedupeFile || m == DedupeFileOverlap }

// ExpandMode selects lexical query expansion.
type ExpandMode string

const (
	ExpandAuto ExpandMode = "auto"
	ExpandOff  ExpandMode = "off"
)

// Valid reports whether m is a known mode.
func (m ExpandMode) Valid() bool { return m == ExpandAuto || m == ExpandOff }

// FeatureFlags are per-request kill switches. Nil pointers and empty modes
// mean "use the configured default"; for EntityExpansion and Reranking the
// default is whatever the routed profile says.
type FeatureFlags struct {
	UseRRF          *bool      `json:"use_rrf,omitempty"`
	Dedupe          DedupeMode `json:"dedupe,omitempty"`
	ExpandQuery     ExpandMode `json:"expand_query,omitempty"`
	Stability       *float64   `json:"stability,omitempty"`
	EntityExpansion *bool      `json:"entity_expansion,omitempty"`
	Reranking       *bool      `json:"reranking,omitempty"`
}

// Bool returns a pointer to b, for building FeatureFlags literals.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f, for building FeatureFlags literals.
func Float(f float64) *float64 { return &f }

// Query is a request after routing. It is passed by value and never
// mutated downstream.
type Query struct {
	RawText     string
	Role        string
	TokenBudget int
	Entities    []string
	Stability   float64
	Flags       FeatureFlags
	Profile     RetrievalProfile
	Complexity  float64
}

// RerankEnabled applies flag precedence over the profile.
func (q Query) RerankEnabled() bool {
	if q.Flags.Reranking != nil {
		return *q.Flags.Reranking
	}
	return q.Profile.EnableReranking
}

// ExpansionEnabled applies flag precedence over the profile.
func (q Query) ExpansionEnabled() bool {
	if q.Flags.EntityExpansion != nil {
		return *q.Flags.EntityExpansion
	}
	return q.Profile.EnableEntityExpansion
}

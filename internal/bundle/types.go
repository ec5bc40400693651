// Package bundle turns ranked candidates into a token-bounded context
// bundle: it allocates the budget across four slots, packs evidence with
// MMR, assembles and renders the bundle, and grades it with quality gates.
package bundle

import "github.com/Aman-CERP/rehydrate/internal/search"

// Item is one entry in a bundle slot. Pinned items carry only Text.
type Item struct {
	ChunkID    string  `json:"chunk_id,omitempty"`
	SourcePath string  `json:"source_path,omitempty"`
	SpanStart  int     `json:"span_start,omitempty"`
	SpanEnd    int     `json:"span_end,omitempty"`
	Text       string  `json:"text"`
	Tokens     int     `json:"tokens"`
	Score      float64 `json:"score,omitempty"`
}

// ContextBundle is the assembled output of one rehydration.
type ContextBundle struct {
	Role   string `json:"role"`
	Budget int    `json:"budget"`
	// UsedTokens is the sum of rendered item and header costs. It bounds
	// the estimated size of RenderText.
	UsedTokens int `json:"used_tokens"`

	Pinned []Item `json:"pinned"`
	// AnchorPriors are the terms added to the lexical query. They are
	// reported here but never rendered.
	AnchorPriors []string `json:"anchor_priors"`
	Evidence     []Item   `json:"evidence"`
	Recent       []Item   `json:"recent"`

	Allocation Allocation `json:"allocation"`
	Degraded   bool       `json:"degraded"`
	Verdict    Verdict    `json:"verdict"`
}

// EvidenceTokens sums the evidence slot.
func (b ContextBundle) EvidenceTokens() int { return sumTokens(b.Evidence) }

// PackedChunk is a candidate chosen by the packer with its rendered cost.
type PackedChunk struct {
	Candidate *search.ScoredCandidate
	Cost      int
	MMR       float64
}

func sumTokens(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Tokens
	}
	return n
}
